package exports

import (
	"bytes"
	"fmt"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/rados-io/saturn-presale/native/presale"
)

type grantRow struct {
	ID          int64  `parquet:"name=id, type=INT64"`
	Owner       string `parquet:"name=owner, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Purchaser   string `parquet:"name=purchaser, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Tier        string `parquet:"name=tier, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Amount      string `parquet:"name=amount, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Value       string `parquet:"name=value, type=UTF8, encoding=PLAIN_DICTIONARY"`
	PurchasedAt int64  `parquet:"name=purchased_at, type=INT64"`
	RedeemAt    int64  `parquet:"name=redeem_at, type=INT64"`
	Claimed     bool   `parquet:"name=claimed, type=BOOLEAN"`
	ClaimedAt   int64  `parquet:"name=claimed_at, type=INT64"`
}

// GrantsParquet writes the grants as a snappy-compressed Parquet file and
// returns it alongside a checksum. Token amounts are decimal strings since
// they exceed 64 bits.
func GrantsParquet(grants []*presale.Grant) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	fw := writerfile.NewWriterFile(buffer)
	pw, err := writer.NewParquetWriter(fw, new(grantRow), 1)
	if err != nil {
		return nil, "", fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 16 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, g := range grants {
		if g == nil {
			continue
		}
		row := &grantRow{
			ID:          int64(g.ID),
			Owner:       hexAddress(g.Owner),
			Purchaser:   hexAddress(g.Purchaser),
			Tier:        g.Tier.String(),
			Amount:      amountString(g.Amount),
			Value:       amountString(g.Value),
			PurchasedAt: g.PurchasedAt,
			RedeemAt:    g.RedeemAt,
			Claimed:     g.Claimed,
			ClaimedAt:   g.ClaimedAt,
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return nil, "", fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, "", fmt.Errorf("exports: parquet flush: %w", err)
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}
