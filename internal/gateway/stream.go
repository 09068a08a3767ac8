package gateway

import (
	"sync"
)

// StreamChannel 是一条在途流式响应的临时有序块队列，
// 以部署 ID 为键。首个块到达时惰性创建，
// 流结束或请求完成时销毁。
//
// 队列不设容量上限：块在执行期间同步产生，而中继在执行返回后
// 才开始消费，写入阻塞会卡死执行协程。内存占用以响应体本身为上界。
type StreamChannel struct {
	mu     sync.Mutex
	cond   *sync.Cond
	chunks [][]byte
	closed bool
}

func newStreamChannel() *StreamChannel {
	sc := &StreamChannel{}
	sc.cond = sync.NewCond(&sc.mu)
	return sc
}

// push 追加一个数据块；done 为真时关闭写端拒绝后续写入。
// 对已关闭队列的写入被静默丢弃，而非 panic。push 从不阻塞。
func (s *StreamChannel) push(done bool, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(data) > 0 {
		s.chunks = append(s.chunks, append([]byte(nil), data...))
	}
	if done {
		s.closed = true
	}
	s.cond.Broadcast()
}

// CloseWrites 关闭写端。编排器在确定生产已结束后调用，
// 即使沙箱从未发出 done 信号，读端也能在排空后终止。
func (s *StreamChannel) CloseWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}

// Next 取出下一个数据块，队列为空且写端未关闭时阻塞等待。
// 写端已关闭且队列排空后返回 false。
func (s *StreamChannel) Next() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.chunks) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.chunks) == 0 {
		return nil, false
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, true
}

// StreamMultiplexer 按部署键中继沙箱增量产生的响应字节。
// 沙箱通过 OnChunk 回调推送数据块，编排器在回复阶段查找
// 对应通道并按产生顺序逐块中继给客户端。
type StreamMultiplexer struct {
	mu       sync.Mutex
	channels map[string]*StreamChannel
}

// NewStreamMultiplexer 创建空的流复用器。
func NewStreamMultiplexer() *StreamMultiplexer {
	return &StreamMultiplexer{
		channels: make(map[string]*StreamChannel),
	}
}

// OnChunk 接收沙箱推送的一个数据块。
// 部署尚无通道时创建一个；done 为真时标记通道写端关闭。
func (m *StreamMultiplexer) OnChunk(deploymentID string, done bool, data []byte) {
	m.mu.Lock()
	sc, ok := m.channels[deploymentID]
	if !ok {
		sc = newStreamChannel()
		m.channels[deploymentID] = sc
	}
	m.mu.Unlock()

	sc.push(done, data)
}

// Lookup 返回部署当前打开的流通道；不存在时返回 nil。
func (m *StreamMultiplexer) Lookup(deploymentID string) *StreamChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[deploymentID]
}

// Remove 将通道移出注册表。编排器在流自然结束
// 或请求完成后调用，销毁本次请求的临时状态。
func (m *StreamMultiplexer) Remove(deploymentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, deploymentID)
}

// Len 返回注册表中的通道数量，供测试使用。
func (m *StreamMultiplexer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}
