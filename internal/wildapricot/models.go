package wildapricot

// TokenResponse models the Wild Apricot OAuth token endpoint response.
type TokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	Permissions  []Permission `json:"Permissions"`
}

// Permission carries the account the token is scoped to.
type Permission struct {
	AccountID       int64    `json:"AccountId"`
	AvailableScopes []string `json:"AvailableScopes"`
}

// AccountID returns the first granted account id, or 0 when none is present.
func (t *TokenResponse) AccountID() int64 {
	if len(t.Permissions) == 0 {
		return 0
	}
	return t.Permissions[0].AccountID
}

// Account is the /accounts/{id} resource.
type Account struct {
	ID                int64  `json:"Id"`
	PrimaryDomainName string `json:"PrimaryDomainName"`
	Name              string `json:"Name"`
}

// MembershipLevel is a single tier a member may hold (at most one).
type MembershipLevel struct {
	ID   int64  `json:"Id"`
	Name string `json:"Name"`
}

// MemberGroup is an orthogonal classification a member holds zero or more of.
type MemberGroup struct {
	ID   int64  `json:"Id"`
	Name string `json:"Name"`
}

// Contact is a trimmed view of a Wild Apricot contact record.
type Contact struct {
	ID              int64            `json:"Id"`
	Email           string           `json:"Email"`
	Status          string           `json:"Status"`
	MembershipLevel *MembershipLevel `json:"MembershipLevel"`
	GroupIDs        []int64          `json:"-"`
	FieldValues     []FieldValue     `json:"FieldValues"`
}

// FieldValue is a raw contact field; group participation arrives here.
type FieldValue struct {
	FieldName string `json:"FieldName"`
	Value     any    `json:"Value"`
}

// contactsPage is the paginated /contacts envelope.
type contactsPage struct {
	Count    int       `json:"Count"`
	Contacts []Contact `json:"Contacts"`
}

// apiError is the well-formed error payload Wild Apricot resources return.
type apiError struct {
	Code             string `json:"Code"`
	Message          string `json:"Message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e *apiError) message() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.ErrorDescription != "":
		return e.ErrorDescription
	case e.Error != "":
		return e.Error
	default:
		return e.Code
	}
}
