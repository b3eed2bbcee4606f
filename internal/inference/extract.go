package inference

import (
	"errors"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/kaptinlin/jsonrepair"
)

// ErrNoJSON is returned when a completion contains no JSON object.
var ErrNoJSON = errors.New("no JSON object in response")

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSON decodes the JSON object embedded in a free-form model answer
// into v. It tries the text as-is, then a fenced code block, then the span
// from the first "{" to the last "}", and finally a repaired version of that
// span.
func ExtractJSON(text string, v interface{}) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrNoJSON
	}
	if err := jsoniter.UnmarshalFromString(text, v); err == nil {
		return nil
	}

	candidate := text
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		candidate = strings.TrimSpace(m[1])
		if err := jsoniter.UnmarshalFromString(candidate, v); err == nil {
			return nil
		}
	}

	start := strings.Index(candidate, "{")
	if start < 0 {
		return ErrNoJSON
	}
	if end := strings.LastIndex(candidate, "}"); end > start {
		span := candidate[start : end+1]
		if err := jsoniter.UnmarshalFromString(span, v); err == nil {
			return nil
		}
		candidate = span
	} else {
		candidate = candidate[start:]
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return ErrNoJSON
	}
	if err := jsoniter.UnmarshalFromString(repaired, v); err != nil {
		return ErrNoJSON
	}
	return nil
}
