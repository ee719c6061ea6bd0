package routereferral

import "opz-funnels/internal/models"

type Input struct {
	Application *models.Application `json:"application"`
}

type Output struct {
	Partner       models.Partner       `json:"partner"`
	RedirectURL   string               `json:"redirectUrl"`
	SignedPayload models.SignedPayload `json:"signedPayload"`
}

// Variables returns the process variables the job completes with.
func (o *Output) Variables() map[string]interface{} {
	return map[string]interface{}{
		"partner":       string(o.Partner),
		"redirectUrl":   o.RedirectURL,
		"signedPayload": o.SignedPayload,
	}
}
