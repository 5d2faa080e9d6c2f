package payment

import "strings"

// StatusMapper turns gateway status strings into payment statuses. Anything
// that is not a configured success code counts as a failure.
type StatusMapper struct {
	success map[string]struct{}
}

func NewStatusMapper(successCodes []string) StatusMapper {
	m := StatusMapper{success: make(map[string]struct{}, len(successCodes))}
	for _, c := range successCodes {
		if c = strings.TrimSpace(c); c != "" {
			m.success[strings.ToUpper(c)] = struct{}{}
		}
	}
	return m
}

func (m StatusMapper) IsSuccess(gatewayStatus string) bool {
	_, ok := m.success[strings.ToUpper(strings.TrimSpace(gatewayStatus))]
	return ok
}

func (m StatusMapper) Map(gatewayStatus string) Status {
	if m.IsSuccess(gatewayStatus) {
		return StatusSuccess
	}
	return StatusFailed
}
