package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchClient defines the CloudWatch operations used by the CloudWatch recorder.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch publishes each measurement directly to CloudWatch, where
// they're aggregated. Publishing failures are logged and dropped; a
// missing data point must never fail an item.
type CloudWatch struct {
	client    CloudWatchClient
	namespace string
}

func NewCloudWatch(client CloudWatchClient, namespace string) *CloudWatch {
	return &CloudWatch{client: client, namespace: namespace}
}

var outcomeMetricNames = map[string]string{
	OutcomeDone:    "DownloadSuccess",
	OutcomeSkipped: "DownloadSkipped",
	OutcomeFailed:  "DownloadFailure",
}

func (cw *CloudWatch) ObserveItem(ctx context.Context, outcome string, duration time.Duration) {
	if err := validOutcome(outcome); err != nil {
		log.Warnf("Dropping item measurement: %v\n", err)
		return
	}

	now := time.Now()
	cw.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(outcomeMetricNames[outcome]),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(1),
			Timestamp:  aws.Time(now),
		},
		{
			MetricName: aws.String("DownloadDuration"),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Timestamp:  aws.Time(now),
			Dimensions: []cwtypes.Dimension{{Name: aws.String("Outcome"), Value: aws.String(outcome)}},
		},
	})
}

func (cw *CloudWatch) ObserveBatch(ctx context.Context, size int, duration time.Duration) {
	now := time.Now()
	cw.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String("BatchSize"),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(size)),
			Timestamp:  aws.Time(now),
		},
		{
			MetricName: aws.String("BatchDuration"),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Timestamp:  aws.Time(now),
		},
	})
}

func (cw *CloudWatch) put(ctx context.Context, data []cwtypes.MetricDatum) {
	// Measurements are still published after the batch deadline has passed
	ctx = context.WithoutCancel(ctx)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := cw.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(cw.namespace),
		MetricData: data,
	})
	if err != nil {
		log.Warnf("Failed to publish %d metric(s) to CloudWatch: %v\n", len(data), err)
	}
}
