package mqtt

import (
	"fmt"
	"strings"
)

// maxTopicLength is the MQTT limit for a UTF-8 encoded topic string.
const maxTopicLength = 65535

// Topic wildcards.
const (
	wildcardSingle = "+"
	wildcardMulti  = "#"
)

// validatePublishTopic checks a concrete topic name. Wildcards are only
// valid in subscription filters.
func validatePublishTopic(topic string) error {
	if err := validateTopicString(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, wildcardSingle+wildcardMulti) {
		return fmt.Errorf("%w: wildcards not allowed in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}

// validateFilter checks a subscription filter.
//
// Rules:
//   - "+" must occupy a whole level: "a/+/c" is valid, "a/b+/c" is not
//   - "#" must occupy the last level: "a/#" is valid, "a/#/c" is not
func validateFilter(filter string) error {
	if err := validateTopicString(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, wildcardMulti) && (level != wildcardMulti || i != len(levels)-1) {
			return fmt.Errorf("%w: %q must be the whole last level in %q", ErrInvalidTopic, wildcardMulti, filter)
		}
		if strings.Contains(level, wildcardSingle) && level != wildcardSingle {
			return fmt.Errorf("%w: %q must be a whole level in %q", ErrInvalidTopic, wildcardSingle, filter)
		}
	}
	return nil
}

func validateTopicString(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if len(topic) > maxTopicLength {
		return fmt.Errorf("%w: topic exceeds %d bytes", ErrInvalidTopic, maxTopicLength)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: topic contains NUL", ErrInvalidTopic)
	}
	return nil
}
