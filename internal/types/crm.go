package types

import "time"

// Account mirrors a HubSpot company.
type Account struct {
	ID            string    `json:"id"`
	HubspotID     string    `json:"hubspotId"`
	Name          string    `json:"name"`
	Domain        string    `json:"domain,omitempty"`
	Industry      string    `json:"industry,omitempty"`
	EmployeeCount int       `json:"employeeCount,omitempty"`
	AnnualRevenue float64   `json:"annualRevenue,omitempty"`
	Properties    Record    `json:"properties,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Contact mirrors a HubSpot contact.
type Contact struct {
	ID         string    `json:"id"`
	HubspotID  string    `json:"hubspotId"`
	AccountID  string    `json:"accountId,omitempty"`
	Email      string    `json:"email,omitempty"`
	FirstName  string    `json:"firstName,omitempty"`
	LastName   string    `json:"lastName,omitempty"`
	JobTitle   string    `json:"jobTitle,omitempty"`
	Properties Record    `json:"properties,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Deal mirrors a HubSpot deal.
type Deal struct {
	ID         string    `json:"id"`
	HubspotID  string    `json:"hubspotId"`
	AccountID  string    `json:"accountId,omitempty"`
	ContactID  string    `json:"contactId,omitempty"`
	Name       string    `json:"name,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	Amount     float64   `json:"amount,omitempty"`
	Properties Record    `json:"properties,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
