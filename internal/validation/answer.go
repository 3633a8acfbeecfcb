package validation

import (
	"fmt"
	"math"
	"strconv"

	"github.com/hyperengineering/inspecta/internal/types"
)

const (
	// MaxTextAnswerLength is the maximum text answer length in runes.
	MaxTextAnswerLength = 4000

	// MaxDescriptionLength is the maximum photo description length in runes.
	MaxDescriptionLength = 500
)

var answerFields = map[types.AnswerType]string{
	types.AnswerText:      "textAnswer",
	types.AnswerNumber:    "numberAnswer",
	types.AnswerBoolean:   "booleanAnswer",
	types.AnswerSelection: "selectionAnswer",
}

// ValidateAnswer checks an answer against the template item it responds
// to. An empty answer is accepted (a response may carry only photos or
// only the completed flag).
func ValidateAnswer(item types.Item, ans types.Answer) []ValidationError {
	var c Collector

	kinds := ans.Kinds()
	if len(kinds) > 1 {
		c.Add(&ValidationError{Field: "answer", Message: "must carry a single answer value"})
		return c.Errors()
	}
	if len(kinds) == 1 && item.AnswerType != "" && kinds[0] != item.AnswerType {
		c.Add(&ValidationError{
			Field:   answerFields[kinds[0]],
			Message: fmt.Sprintf("does not match item %d answer type %q", item.ID, item.AnswerType),
		})
		return c.Errors()
	}

	if ans.Text != nil {
		c.Add(freeText("textAnswer", *ans.Text, MaxTextAnswerLength))
	}
	if ans.Number != nil && (math.IsNaN(*ans.Number) || math.IsInf(*ans.Number, 0)) {
		c.Add(&ValidationError{Field: "numberAnswer", Message: "must be a finite number"})
	}
	if ans.Selection != nil {
		c.Add(oneOf("selectionAnswer", *ans.Selection, item.Options))
	}
	return c.Errors()
}

// ValidateLocation checks a capture location's coordinates.
func ValidateLocation(loc *types.Location) []ValidationError {
	if loc == nil {
		return nil
	}
	var c Collector
	c.Add(within("latitude", loc.Latitude, -90, 90))
	c.Add(within("longitude", loc.Longitude, -180, 180))
	return c.Errors()
}

// ValidateDescription checks a free-text photo description.
func ValidateDescription(desc string) []ValidationError {
	var c Collector
	c.Add(freeText("description", desc, MaxDescriptionLength))
	return c.Errors()
}

// ParseAnswer builds an answer of the item's type from its text form, as
// typed on a command line.
func ParseAnswer(t types.AnswerType, raw string) (types.Answer, error) {
	switch t {
	case types.AnswerNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return types.Answer{}, ValidationError{Field: "numberAnswer", Message: "must be a number"}
		}
		return types.Answer{Number: &n}, nil
	case types.AnswerBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return types.Answer{}, ValidationError{Field: "booleanAnswer", Message: "must be true or false"}
		}
		return types.Answer{Boolean: &b}, nil
	case types.AnswerSelection:
		return types.Answer{Selection: &raw}, nil
	default:
		return types.Answer{Text: &raw}, nil
	}
}
