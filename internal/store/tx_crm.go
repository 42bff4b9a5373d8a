package store

import (
	"fmt"
	"sort"
	"strings"

	"flowops/internal/types"
)

// CRM mirror rows are keyed by their HubSpot id.

func (tx *Tx) GetAccount(hubspotID string) (*types.Account, error) {
	var account types.Account
	ok, err := tx.getJSON(bucketAccounts, hubspotID, &account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("account", hubspotID)
	}
	return &account, nil
}

func (tx *Tx) PutAccount(account *types.Account) error {
	if account == nil || strings.TrimSpace(account.HubspotID) == "" {
		return fmt.Errorf("account hubspot id is required")
	}
	return tx.putJSON(bucketAccounts, account.HubspotID, account)
}

func (tx *Tx) ListAccounts() ([]*types.Account, error) {
	out := make([]*types.Account, 0)
	err := scan(tx, bucketAccounts, "", func(a *types.Account) error {
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (tx *Tx) GetContact(hubspotID string) (*types.Contact, error) {
	var contact types.Contact
	ok, err := tx.getJSON(bucketContacts, hubspotID, &contact)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("contact", hubspotID)
	}
	return &contact, nil
}

func (tx *Tx) PutContact(contact *types.Contact) error {
	if contact == nil || strings.TrimSpace(contact.HubspotID) == "" {
		return fmt.Errorf("contact hubspot id is required")
	}
	return tx.putJSON(bucketContacts, contact.HubspotID, contact)
}

func (tx *Tx) ListContacts() ([]*types.Contact, error) {
	out := make([]*types.Contact, 0)
	err := scan(tx, bucketContacts, "", func(c *types.Contact) error {
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (tx *Tx) GetDeal(hubspotID string) (*types.Deal, error) {
	var deal types.Deal
	ok, err := tx.getJSON(bucketDeals, hubspotID, &deal)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("deal", hubspotID)
	}
	return &deal, nil
}

func (tx *Tx) PutDeal(deal *types.Deal) error {
	if deal == nil || strings.TrimSpace(deal.HubspotID) == "" {
		return fmt.Errorf("deal hubspot id is required")
	}
	return tx.putJSON(bucketDeals, deal.HubspotID, deal)
}

func (tx *Tx) ListDeals() ([]*types.Deal, error) {
	out := make([]*types.Deal, 0)
	err := scan(tx, bucketDeals, "", func(d *types.Deal) error {
		out = append(out, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
