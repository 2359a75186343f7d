package vault_test

// fakePrompter replays canned confirmation answers and a fixed passphrase.
type fakePrompter struct {
	confirmAnswers []bool
	passphrase     []byte

	confirms []string
}

func (p *fakePrompter) Confirm(prompt string, defaultValue bool) (bool, error) {
	p.confirms = append(p.confirms, prompt)

	if len(p.confirmAnswers) == 0 {
		return defaultValue, nil
	}

	answer := p.confirmAnswers[0]
	p.confirmAnswers = p.confirmAnswers[1:]

	return answer, nil
}

func (p *fakePrompter) Passphrase(_ string, _ bool) ([]byte, error) {
	// Callers zero the returned slice after use, so hand out a copy.
	return append([]byte(nil), p.passphrase...), nil
}
