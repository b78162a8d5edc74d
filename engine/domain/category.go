package domain

import "strings"

// Category is the routing decision for a user message.
type Category int

const (
	CategoryOther Category = iota
	CategoryPersonal
	CategoryGeneral
)

// Labels the classifier is asked to answer with.
const (
	LabelPersonal = "personal health question"
	LabelGeneral  = "general health question not related to person's data"
)

// ParseCategory normalizes a raw classifier label (trim, lowercase) and maps
// it onto a Category. Unknown labels map to CategoryOther.
func ParseCategory(label string) Category {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case LabelPersonal:
		return CategoryPersonal
	case LabelGeneral:
		return CategoryGeneral
	default:
		return CategoryOther
	}
}

func (c Category) String() string {
	switch c {
	case CategoryPersonal:
		return "personal"
	case CategoryGeneral:
		return "general"
	default:
		return "other"
	}
}

// Personal reports whether the message needs the user's explanation record.
func (c Category) Personal() bool { return c == CategoryPersonal }
