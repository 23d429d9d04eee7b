package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rados-io/saturn-presale/native/presale"
)

var grantHeader = []string{"id", "owner", "purchaser", "tier", "amount", "value", "purchased_at", "redeem_at", "claimed", "claimed_at"}

// GrantsCSV builds a CSV export of the supplied grants and returns the
// serialised data alongside a SHA-256 checksum of the payload.
func GrantsCSV(grants []*presale.Grant) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(grantHeader); err != nil {
		return nil, "", err
	}
	for _, g := range grants {
		if g == nil {
			continue
		}
		record := []string{
			strconv.FormatUint(g.ID, 10),
			hexAddress(g.Owner),
			hexAddress(g.Purchaser),
			g.Tier.String(),
			amountString(g.Amount),
			amountString(g.Value),
			unixRFC3339(g.PurchasedAt),
			unixRFC3339(g.RedeemAt),
			strconv.FormatBool(g.Claimed),
			unixRFC3339(g.ClaimedAt),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	return flushCSV(buffer, writer)
}

// AccountsCSV exports aggregate-mode balances.
func AccountsCSV(accounts []*presale.Account) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write([]string{"address", "balance", "contributed", "locked_until", "redeemed_at"}); err != nil {
		return nil, "", err
	}
	for _, acc := range accounts {
		if acc == nil {
			continue
		}
		record := []string{
			hexAddress(acc.Address),
			amountString(acc.Balance),
			amountString(acc.Contributed),
			unixRFC3339(acc.LockedUntil),
			unixRFC3339(acc.RedeemedAt),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	return flushCSV(buffer, writer)
}

func flushCSV(buffer *bytes.Buffer, writer *csv.Writer) ([]byte, string, error) {
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hexAddress(addr [20]byte) string {
	return common.BytesToAddress(addr[:]).Hex()
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// unixRFC3339 renders a unix timestamp; zero means unset and renders empty.
func unixRFC3339(ts int64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
