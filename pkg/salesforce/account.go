package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// maxBatchSize is the Salesforce Collections API limit per request.
const maxBatchSize = 200

// Account is the subset of a Salesforce Account used to match entities.
type Account struct {
	ID           string `json:"Id" salesforce:"Id"`
	Name         string `json:"Name" salesforce:"Name"`
	Website      string `json:"Website" salesforce:"Website"`
	BillingCity  string `json:"BillingCity" salesforce:"BillingCity"`
	BillingState string `json:"BillingState" salesforce:"BillingState"`
}

var accountFields = []string{"Id", "Name", "Website", "BillingCity", "BillingState"}

// AccountUpdate holds an account ID and the fields to update.
type AccountUpdate struct {
	ID     string
	Fields map[string]any
}

// FindAccountByWebsite returns the first Account whose Website matches, or
// nil when none does.
func FindAccountByWebsite(ctx context.Context, c Client, website string) (*Account, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Account WHERE Website LIKE '%%%s%%' LIMIT 1",
		strings.Join(accountFields, ", "),
		escapeSoql(website),
	)

	var accounts []Account
	if err := c.Query(ctx, soql, &accounts); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find account by website %s", website))
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return &accounts[0], nil
}

// UpdateAccount updates an Account record with the given fields.
func UpdateAccount(ctx context.Context, c Client, accountID string, fields map[string]any) error {
	if accountID == "" {
		return eris.New("sf: account id is required")
	}
	if len(fields) == 0 {
		return eris.New("sf: no fields to update")
	}
	if err := c.UpdateOne(ctx, "Account", accountID, fields); err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: update account %s", accountID))
	}
	return nil
}

// BulkUpdateAccounts sends updates in batches of the Collections API limit.
// Results from batches that succeeded are returned alongside any error.
func BulkUpdateAccounts(ctx context.Context, c Client, updates []AccountUpdate) ([]CollectionResult, error) {
	var all []CollectionResult
	for start := 0; start < len(updates); start += maxBatchSize {
		end := min(start+maxBatchSize, len(updates))

		records := make([]CollectionRecord, 0, end-start)
		for _, u := range updates[start:end] {
			records = append(records, CollectionRecord(u))
		}

		results, err := c.UpdateCollection(ctx, "Account", records)
		if err != nil {
			return all, eris.Wrap(err, fmt.Sprintf("sf: bulk update accounts batch %d-%d", start, end))
		}
		all = append(all, results...)
	}
	return all, nil
}

func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
