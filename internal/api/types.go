package api

// User is the authenticated user's profile.
type User struct {
	UserID          int64    `json:"user_id,omitempty"`
	FirstName       string   `json:"first_name"`
	LastName        string   `json:"last_name,omitempty"`
	Email           string   `json:"email"`
	EmailVerified   bool     `json:"email_verified,omitempty"`
	Status          string   `json:"status,omitempty"`
	PrimaryCurrency string   `json:"primary_currency,omitempty"`
	Gender          string   `json:"gender,omitempty"`
	MobileNumber    string   `json:"mobile_number,omitempty"`
	RegisterDate    string   `json:"register_date,omitempty"`
	Address         *Address `json:"address,omitempty"`
}

type Address struct {
	Line1    string `json:"line_1,omitempty"`
	Line2    string `json:"line_2,omitempty"`
	Suburb   string `json:"suburb,omitempty"`
	Town     string `json:"town,omitempty"`
	Region   string `json:"region,omitempty"`
	State    string `json:"state,omitempty"`
	Country  string `json:"country,omitempty"`
	Postcode string `json:"postcode,omitempty"`
}

// Balance is an amount as the server sends it: a decimal string plus currency.
type Balance struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// Account is an aggregated bank account.
type Account struct {
	AccountID      int64          `json:"id"`
	AccountName    string         `json:"account_name"`
	AccountNumber  string         `json:"account_number,omitempty"`
	BSB            string         `json:"bsb,omitempty"`
	ProviderName   string         `json:"provider_name,omitempty"`
	AccountStatus  string         `json:"account_status"`
	AccountType    string         `json:"container,omitempty"`
	Included       bool           `json:"included"`
	Hidden         bool           `json:"hidden"`
	Favourite      bool           `json:"favourite"`
	CurrentBalance *Balance       `json:"current_balance,omitempty"`
	RefreshStatus  *RefreshStatus `json:"refresh_status,omitempty"`
}

// RefreshStatus is the aggregation state of an account.
type RefreshStatus struct {
	Status        string `json:"status"`
	LastRefreshed int64  `json:"last_refreshed,omitempty"`
}

type passwordResetRequest struct {
	Email string `json:"email"`
}
