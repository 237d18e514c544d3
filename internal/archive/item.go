package archive

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const (
	MaxTitleLength = 100
	untitled       = "untitled"
)

var validate = validator.New()

type (
	// Message is a single delivery from the queue transport.
	Message struct {
		ID   string
		Body []byte
	}

	// Item is the payload of a Message, identifying a single video to archive.
	Item struct {
		VideoID string `json:"videoId" validate:"required,max=256,printascii,excludesall=/\\"`
		Title   string `json:"title"`
	}

	State      int
	SkipReason int

	// Outcome describes the terminal state of a single message in a batch.
	Outcome struct {
		MessageID string
		VideoID   string
		State     State
		Skip      SkipReason
		Key       string
		Err       error
		Duration  time.Duration
	}
)

const (
	Pending State = iota
	Checking
	Skipped
	Fetching
	Committing
	Done
	Failed
)

const (
	NotSkipped SkipReason = iota
	SkipInvalid
	SkipDuplicate
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Checking:
		return "CHECKING"
	case Skipped:
		return "SKIPPED"
	case Fetching:
		return "FETCHING"
	case Committing:
		return "COMMITTING"
	case Done:
		return "DONE"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", int(s))
	}
}

func (r SkipReason) String() string {
	switch r {
	case NotSkipped:
		return "none"
	case SkipInvalid:
		return "invalid"
	case SkipDuplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", int(r))
	}
}

// Redeliver reports whether the message should be left on the queue
// so that the transport's own retry and dead-letter policy applies.
func (o Outcome) Redeliver() bool {
	return o.State == Failed
}

// ParseItem decodes and validates the body of a delivered message.
func ParseItem(body []byte) (*Item, error) {
	var item Item
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("malformed message body: %w", err)
	}

	if err := validate.Struct(item); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	return &item, nil
}

// SanitizeTitle reduces an untrusted title to a string which is safe to use
// inside of an object key or file name. Only ASCII letters, digits, '-', '_'
// and '.' survive; runs of whitespace become a single '_'. The result is at
// most MaxTitleLength characters, and is never empty.
func SanitizeTitle(title string) string {
	var sb strings.Builder
	pendingSpace := false
	for _, r := range title {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.'):
			if pendingSpace && sb.Len() > 0 {
				sb.WriteByte('_')
			}
			pendingSpace = false
			sb.WriteRune(r)
		}
	}

	safe := strings.Trim(sb.String(), "._-")
	if len(safe) > MaxTitleLength {
		safe = strings.TrimRight(safe[:MaxTitleLength], "._-")
	}
	if safe == "" {
		return untitled
	}

	return safe
}

// DestinationKey returns the object key an item's payload is archived under.
func DestinationKey(prefix string, item *Item) string {
	return fmt.Sprintf("%s%s_%s.mp4", prefix, SanitizeTitle(item.Title), item.VideoID)
}
