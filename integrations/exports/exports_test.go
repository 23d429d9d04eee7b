package exports

import (
	"bufio"
	"bytes"
	"math/big"
	"strings"
	"testing"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/rados-io/saturn-presale/native/presale"
)

func sampleGrants() []*presale.Grant {
	return []*presale.Grant{
		{
			ID:          1,
			Owner:       [20]byte{19: 0xA1},
			Purchaser:   [20]byte{19: 0xA1},
			Tier:        presale.TierShort,
			Amount:      big.NewInt(550_000_000),
			Value:       new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
			PurchasedAt: 1_700_000_000,
			RedeemAt:    1_700_000_000 + 12*7*24*3600,
		},
		nil,
		{
			ID:          2,
			Owner:       [20]byte{19: 0xB2},
			Purchaser:   [20]byte{19: 0xA1},
			Tier:        presale.TierLong,
			Amount:      big.NewInt(750_000_000),
			Value:       new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
			PurchasedAt: 1_700_000_000,
			RedeemAt:    1_700_000_000 + 52*7*24*3600,
			Claimed:     true,
			ClaimedAt:   1_800_000_000,
		},
	}
}

func TestGrantsCSV(t *testing.T) {
	data, sum, err := GrantsCSV(sampleGrants())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if sum != checksum(data) {
		t.Fatalf("checksum does not cover payload")
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %d lines", len(lines))
	}
	if lines[0] != "id,owner,purchaser,tier,amount,value,purchased_at,redeem_at,claimed,claimed_at" {
		t.Fatalf("unexpected header: %s", lines[0])
	}
	if !strings.HasPrefix(lines[1], "1,"+hexAddress([20]byte{19: 0xA1})+",") {
		t.Fatalf("unexpected first row: %s", lines[1])
	}
	if !strings.Contains(lines[1], ",short,550000000,1000000000000000000,2023-11-14T22:13:20Z,") {
		t.Fatalf("unexpected first row: %s", lines[1])
	}
	if !strings.HasSuffix(lines[1], ",false,") {
		t.Fatalf("unclaimed grant should have empty claimed_at: %s", lines[1])
	}
	if !strings.Contains(lines[2], ",long,750000000,") || !strings.Contains(lines[2], ",true,") {
		t.Fatalf("unexpected second row: %s", lines[2])
	}
}

func TestAccountsCSV(t *testing.T) {
	accounts := []*presale.Account{{
		Address:     [20]byte{19: 0xC3},
		Balance:     big.NewInt(42),
		Contributed: big.NewInt(42_000_000_000),
		LockedUntil: 1_731_536_000,
	}}
	data, sum, err := AccountsCSV(accounts)
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if sum == "" || !strings.Contains(string(data), ",42,42000000000,") {
		t.Fatalf("unexpected payload: %s", data)
	}
}

func TestGrantsJSONL(t *testing.T) {
	data, sum, err := GrantsJSONL(sampleGrants())
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if sum == "" {
		t.Fatalf("expected checksum")
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var rows []string
	for scanner.Scan() {
		rows = append(rows, scanner.Text())
	}
	if len(rows) != 2 {
		t.Fatalf("expected two rows, got %d", len(rows))
	}
	if strings.Contains(rows[0], "claimedAt") {
		t.Fatalf("unclaimed grant should omit claimedAt: %s", rows[0])
	}
	if !strings.Contains(rows[1], `"claimedAt":1800000000`) {
		t.Fatalf("missing claimedAt: %s", rows[1])
	}
}

func TestGrantsParquetRoundTrip(t *testing.T) {
	data, sum, err := GrantsParquet(sampleGrants())
	if err != nil {
		t.Fatalf("parquet: %v", err)
	}
	if sum != checksum(data) {
		t.Fatalf("checksum does not cover payload")
	}
	if !bytes.HasPrefix(data, []byte("PAR1")) {
		t.Fatalf("missing parquet magic")
	}
	pr, err := reader.NewParquetReader(buffer.NewBufferFileFromBytes(data), new(grantRow), 1)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	defer pr.ReadStop()
	if pr.GetNumRows() != 2 {
		t.Fatalf("expected 2 rows, got %d", pr.GetNumRows())
	}
	rows := make([]grantRow, 2)
	if err := pr.Read(&rows); err != nil {
		t.Fatalf("read: %v", err)
	}
	if rows[0].Amount != "550000000" || rows[1].Tier != "long" || !rows[1].Claimed {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}
