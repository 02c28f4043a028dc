package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/starfall/economy-engine/internal/model"
)

// accountDocs holds the JSON columns of an account row.
type accountDocs struct {
	inventory []byte
	portfolio []byte
	luck      []byte // nil when no modifier is active
}

func encodeAccountDocs(a *model.Account) (accountDocs, error) {
	var docs accountDocs
	var err error
	inv := a.Inventory
	if inv == nil {
		inv = map[string]model.ItemStack{}
	}
	if docs.inventory, err = json.Marshal(inv); err != nil {
		return docs, fmt.Errorf("encode inventory: %w", err)
	}
	port := a.Portfolio
	if port == nil {
		port = map[string]model.Position{}
	}
	if docs.portfolio, err = json.Marshal(port); err != nil {
		return docs, fmt.Errorf("encode portfolio: %w", err)
	}
	if a.Luck != nil {
		if docs.luck, err = json.Marshal(a.Luck); err != nil {
			return docs, fmt.Errorf("encode luck: %w", err)
		}
	}
	return docs, nil
}

func decodeAccountDocs(a *model.Account, docs accountDocs) error {
	a.Inventory = make(map[string]model.ItemStack)
	a.Portfolio = make(map[string]model.Position)
	if len(docs.inventory) > 0 {
		if err := json.Unmarshal(docs.inventory, &a.Inventory); err != nil {
			return fmt.Errorf("decode inventory: %w", err)
		}
	}
	if len(docs.portfolio) > 0 {
		if err := json.Unmarshal(docs.portfolio, &a.Portfolio); err != nil {
			return fmt.Errorf("decode portfolio: %w", err)
		}
	}
	a.Luck = nil
	if len(docs.luck) > 0 && string(docs.luck) != "null" {
		var m model.LuckModifier
		if err := json.Unmarshal(docs.luck, &m); err != nil {
			return fmt.Errorf("decode luck: %w", err)
		}
		a.Luck = &m
	}
	return nil
}

// volumeOf folds log entries into a TickerVolume.
func volumeOf(ticker string, since time.Time, entries []model.TransactionLogEntry) *model.TickerVolume {
	v := &model.TickerVolume{Ticker: ticker, Since: since}
	for _, e := range entries {
		v.Trades++
		switch e.Side {
		case model.SideBuy:
			v.Bought += e.Quantity
			v.BuyValue = v.BuyValue.Add(e.TotalValue)
		case model.SideSell:
			v.Sold += e.Quantity
			v.SellValue = v.SellValue.Add(e.TotalValue)
		}
	}
	return v
}
