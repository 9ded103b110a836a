package binance

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashkan-ph/pulse/internal/exchange"
	"github.com/ashkan-ph/pulse/internal/model"
)

type depthResponse struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

func (b *Binance) GetOrderBook(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	if symbol == "" {
		return model.OrderBook{}, fmt.Errorf("%w: empty symbol", exchange.ErrInvalidArgument)
	}
	if depth <= 0 {
		depth = 20
	}

	var resp depthResponse
	query := url.Values{
		"symbol": {strings.ToUpper(symbol)},
		"limit":  {strconv.Itoa(depth)},
	}
	if err := b.client.GetJSON(ctx, depthPath, query, &resp); err != nil {
		return model.OrderBook{}, err
	}

	return model.OrderBook{
		Symbol:    strings.ToUpper(symbol),
		Source:    b.Name(),
		Bids:      exchange.CumulativeLevels(parsePairs(resp.Bids)),
		Asks:      exchange.CumulativeLevels(parsePairs(resp.Asks)),
		Timestamp: time.Now(),
	}, nil
}

// parsePairs converts [price, quantity] string pairs into floats,
// preserving upstream ordering.
func parsePairs(raw [][2]string) [][2]float64 {
	out := make([][2]float64, 0, len(raw))
	for _, r := range raw {
		out = append(out, [2]float64{parseFloat(r[0]), parseFloat(r[1])})
	}
	return out
}
