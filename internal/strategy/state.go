package strategy

// ChannelPosition 是突破策略记录的价格相对通道的位置。
type ChannelPosition string

const (
	ChannelNone  ChannelPosition = "none"
	ChannelLong  ChannelPosition = "long"
	ChannelShort ChannelPosition = "short"
)

// State 是某策略在某品种上的私有记忆。
type State struct {
	PrevFast float64
	PrevSlow float64
	HasPrev  bool

	Prices   []float64
	Position ChannelPosition
}

func newState() *State {
	return &State{Position: ChannelNone}
}

// pushPrice 追加价格并保留最近 limit 个。
func (s *State) pushPrice(price float64, limit int) {
	s.Prices = append(s.Prices, price)
	if limit > 0 && len(s.Prices) > limit {
		s.Prices = append(s.Prices[:0], s.Prices[len(s.Prices)-limit:]...)
	}
}

type stateKey struct {
	strategy   string
	instrument string
}

// StateBook 按 (策略, 品种) 保存 State，由交易会话独占；每次回测使用新的 StateBook 或先 Reset。
type StateBook struct {
	states map[stateKey]*State
}

func NewStateBook() *StateBook {
	return &StateBook{states: make(map[stateKey]*State)}
}

// For 返回对应 State，首次访问时创建。
func (b *StateBook) For(strategy, instrument string) *State {
	if b.states == nil {
		b.states = make(map[stateKey]*State)
	}
	key := stateKey{strategy: strategy, instrument: instrument}
	st, ok := b.states[key]
	if !ok {
		st = newState()
		b.states[key] = st
	}
	return st
}

// Len 返回已创建的 State 数量。
func (b *StateBook) Len() int {
	return len(b.states)
}

func (b *StateBook) Reset() {
	b.states = make(map[stateKey]*State)
}
