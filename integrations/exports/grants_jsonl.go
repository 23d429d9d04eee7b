package exports

import (
	"bytes"
	"encoding/json"

	"github.com/rados-io/saturn-presale/native/presale"
)

// GrantsJSONL builds a JSON Lines export of the supplied grants and returns the
// serialised payload alongside a checksum.
func GrantsJSONL(grants []*presale.Grant) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, g := range grants {
		if g == nil {
			continue
		}
		payload := map[string]interface{}{
			"id":          g.ID,
			"owner":       hexAddress(g.Owner),
			"purchaser":   hexAddress(g.Purchaser),
			"tier":        g.Tier.String(),
			"amount":      amountString(g.Amount),
			"value":       amountString(g.Value),
			"purchasedAt": g.PurchasedAt,
			"redeemAt":    g.RedeemAt,
			"claimed":     g.Claimed,
		}
		if g.ClaimedAt != 0 {
			payload["claimedAt"] = g.ClaimedAt
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}
