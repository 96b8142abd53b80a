package feeds

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/guardrail/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BINANCE KLINE FEED - Closed candles over websocket
// ═══════════════════════════════════════════════════════════════════════════════
//
// Subscribes to kline streams, forwards every tick and emits a Candle
// when the bar closes. Reconnects with a fixed delay; subscribers never
// see the connection churn.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	binanceWSBase  = "wss://stream.binance.com:9443/stream?streams="
	reconnectDelay = 5 * time.Second
	readTimeout    = 90 * time.Second
)

// klineMessage is the combined-stream payload we care about.
type klineMessage struct {
	Data struct {
		Symbol string `json:"s"`
		Kline  struct {
			OpenTime  int64  `json:"t"`
			CloseTime int64  `json:"T"`
			Open      string `json:"o"`
			High      string `json:"h"`
			Low       string `json:"l"`
			Close     string `json:"c"`
			Volume    string `json:"v"`
			Closed    bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

// BinanceFeed streams klines for a fixed symbol set.
type BinanceFeed struct {
	mu sync.RWMutex

	symbols   []string
	interval  string
	wsBase    string
	conn      *websocket.Conn
	connected bool
	running   bool
	stopCh    chan struct{}

	candles chan types.Candle
	ticks   chan Tick
}

// NewBinanceFeed creates a feed for the given symbols (e.g. BTCUSDT) and
// kline interval (e.g. "1m").
func NewBinanceFeed(symbols []string, interval string) *BinanceFeed {
	return &BinanceFeed{
		symbols:  symbols,
		interval: interval,
		wsBase:   binanceWSBase,
		stopCh:   make(chan struct{}),
		candles:  make(chan types.Candle, 256),
		ticks:    make(chan Tick, 1024),
	}
}

func (f *BinanceFeed) SubscribeCandles() <-chan types.Candle { return f.candles }
func (f *BinanceFeed) SubscribeTicks() <-chan Tick           { return f.ticks }

func (f *BinanceFeed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// Start launches the connection loop.
func (f *BinanceFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.connectionLoop()
	log.Info().Strs("symbols", f.symbols).Str("interval", f.interval).Msg("📡 Candle feed started")
}

// Stop tears the stream down.
func (f *BinanceFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)
	if f.conn != nil {
		f.conn.Close()
	}
}

func (f *BinanceFeed) streamURL() string {
	streams := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", strings.ToLower(s), f.interval))
	}
	return f.wsBase + strings.Join(streams, "/")
}

func (f *BinanceFeed) connectionLoop() {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(f.streamURL(), nil)
		if err != nil {
			log.Warn().Err(err).Msg("Feed dial failed, retrying")
			select {
			case <-time.After(reconnectDelay):
				continue
			case <-f.stopCh:
				return
			}
		}

		f.mu.Lock()
		f.conn = conn
		f.connected = true
		f.mu.Unlock()
		log.Info().Msg("Candle feed connected")

		f.readLoop(conn)

		f.mu.Lock()
		f.connected = false
		f.mu.Unlock()

		select {
		case <-f.stopCh:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *BinanceFeed) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("Feed read failed, reconnecting")
			return
		}

		var msg klineMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Data.Symbol == "" {
			continue
		}
		k := msg.Data.Kline

		closePrice, err := decimal.NewFromString(k.Close)
		if err != nil {
			continue
		}

		select {
		case f.ticks <- Tick{Symbol: msg.Data.Symbol, Price: closePrice}:
		default:
		}

		if !k.Closed {
			continue
		}

		open, _ := decimal.NewFromString(k.Open)
		high, _ := decimal.NewFromString(k.High)
		low, _ := decimal.NewFromString(k.Low)
		volume, _ := decimal.NewFromString(k.Volume)
		candle := types.Candle{
			Symbol:    msg.Data.Symbol,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
			CloseTime: time.UnixMilli(k.CloseTime).UTC(),
		}

		select {
		case f.candles <- candle:
		default:
			log.Warn().Str("symbol", candle.Symbol).Msg("Candle dropped, consumer too slow")
		}
	}
}
