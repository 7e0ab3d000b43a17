package prompt

import "fmt"

// Script replays canned answers in order. Tests use it to walk interactive
// flows without a terminal.
type Script struct {
	Confirms  []bool
	Choices   []byte
	Passwords []string

	// Asked records every prompt text in arrival order.
	Asked []string
}

func (s *Script) Confirm(msg string, _ bool) (bool, error) {
	s.Asked = append(s.Asked, msg)
	if len(s.Confirms) == 0 {
		return false, fmt.Errorf("unexpected confirm prompt: %s", msg)
	}
	ans := s.Confirms[0]
	s.Confirms = s.Confirms[1:]
	return ans, nil
}

func (s *Script) Choose(msg, _ string, _ byte) (byte, error) {
	s.Asked = append(s.Asked, msg)
	if len(s.Choices) == 0 {
		return 0, fmt.Errorf("unexpected choice prompt: %s", msg)
	}
	ans := s.Choices[0]
	s.Choices = s.Choices[1:]
	return ans, nil
}

func (s *Script) Password(msg string) (string, error) {
	s.Asked = append(s.Asked, msg)
	if len(s.Passwords) == 0 {
		return "", fmt.Errorf("unexpected password prompt: %s", msg)
	}
	ans := s.Passwords[0]
	s.Passwords = s.Passwords[1:]
	return ans, nil
}
