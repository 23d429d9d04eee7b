package presaled

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rados-io/saturn-presale/native/presale"
)

type grantView struct {
	ID          uint64 `json:"id"`
	Owner       string `json:"owner"`
	Purchaser   string `json:"purchaser"`
	Tier        string `json:"tier"`
	Amount      string `json:"amount"`
	Value       string `json:"value"`
	PurchasedAt int64  `json:"purchasedAt"`
	RedeemAt    int64  `json:"redeemAt"`
	Claimed     bool   `json:"claimed"`
	ClaimedAt   int64  `json:"claimedAt,omitempty"`
}

func newGrantView(g *presale.Grant) grantView {
	return grantView{
		ID:          g.ID,
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
}

type accountView struct {
	Address     string `json:"address"`
	Balance     string `json:"balance"`
	Contributed string `json:"contributed"`
	LockedUntil int64  `json:"lockedUntil"`
	RedeemedAt  int64  `json:"redeemedAt,omitempty"`
}

func newAccountView(acc *presale.Account) accountView {
	return accountView{
		Address:     hexAddress(acc.Address),
		Balance:     amountString(acc.Balance),
		Contributed: amountString(acc.Contributed),
		LockedUntil: acc.LockedUntil,
		RedeemedAt:  acc.RedeemedAt,
	}
}

type saleView struct {
	Token            string `json:"token"`
	Treasury         string `json:"treasury"`
	Owner            string `json:"owner"`
	Mode             string `json:"mode"`
	HardCap          string `json:"hardCap"`
	MinContribution  string `json:"minContribution"`
	BasePriceDivisor string `json:"basePriceDivisor"`
	Active           bool   `json:"active"`
	Ended            bool   `json:"ended"`
	Sold             string `json:"sold"`
	Unsold           string `json:"unsold"`
	GrantCount       uint64 `json:"grantCount"`
	ActivatedAt      int64  `json:"activatedAt,omitempty"`
	EndedAt          int64  `json:"endedAt,omitempty"`
}

func newSaleView(cfg presale.SaleConfig, st *presale.SaleState) saleView {
	var grants uint64
	if st.NextGrantID > 0 {
		grants = st.NextGrantID - 1
	}
	return saleView{
		Token:            hexAddress(cfg.SaleToken),
		Treasury:         hexAddress(cfg.Treasury),
		Owner:            hexAddress(cfg.Owner),
		Mode:             cfg.Mode.String(),
		HardCap:          amountString(cfg.HardCap),
		MinContribution:  amountString(cfg.MinContribution),
		BasePriceDivisor: amountString(cfg.BasePriceDivisor),
		Active:           st.Active,
		Ended:            st.Ended,
		Sold:             amountString(st.Sold),
		Unsold:           new(big.Int).Sub(cfg.HardCap, st.Sold).String(),
		GrantCount:       grants,
		ActivatedAt:      st.ActivatedAt,
		EndedAt:          st.EndedAt,
	}
}

type quoteView struct {
	Tier         string `json:"tier,omitempty"`
	Value        string `json:"value"`
	Amount       string `json:"amount"`
	LockDuration int64  `json:"lockDuration"`
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
