package manualreviewhandoff

type Input struct {
	UserRef     string `json:"userRef"`
	Mode        string `json:"mode"`
	Email       string `json:"email"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName"`
	Phone       string `json:"phone,omitempty"`
	CompanyName string `json:"companyName,omitempty"`
}

type Output struct {
	ContactID string `json:"contactId"`
	Created   bool   `json:"created"`
}

// inputFields are the per-variable schemas of the job input.
var inputFields = map[string]string{
	"userRef":     `{"type":"string","minLength":1}`,
	"mode":        `{"type":"string","enum":["personal","business"]}`,
	"email":       `{"type":"string","format":"email"}`,
	"firstName":   `{"type":"string","maxLength":100}`,
	"lastName":    `{"type":"string","minLength":1,"maxLength":100}`,
	"phone":       `{"type":"string","maxLength":40}`,
	"companyName": `{"type":"string","maxLength":200}`,
}

var requiredFields = []string{"userRef", "mode", "email", "lastName"}
