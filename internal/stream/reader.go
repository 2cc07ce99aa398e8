// internal/stream/reader.go
package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	apperrors "github.com/Corphon/QuestWeaver/internal/errors"
	"github.com/Corphon/QuestWeaver/internal/models"
)

const readChunkSize = 4096

// Item 读取到的一条 data 行。Err 非空时为被跳过的协议错误。
type Item struct {
	Event models.StreamEvent
	Err   error
}

type chunk struct {
	data []byte
	err  error
}

// Reader 从字节流中逐条读取事件。
// 读取在后台协程中进行，Close 之后不再等待未完成的读取。
type Reader struct {
	body    io.ReadCloser
	chunks  chan chunk
	done    chan struct{}
	decoder *LineDecoder
	pending []string
	idle    time.Duration
	eof     bool
	err     error // 读取失败后固定返回

	closeOnce sync.Once
}

// NewReader 包装响应体。idle 为两次数据到达之间的最长等待，0 表示不限制。
func NewReader(body io.ReadCloser, idle time.Duration) *Reader {
	r := &Reader{
		body:    body,
		chunks:  make(chan chunk, 1),
		done:    make(chan struct{}),
		decoder: NewLineDecoder(),
		idle:    idle,
	}
	go r.pump()
	return r
}

func (r *Reader) pump() {
	for {
		buf := make([]byte, readChunkSize)
		n, err := r.body.Read(buf)
		if n > 0 {
			select {
			case r.chunks <- chunk{data: buf[:n]}:
			case <-r.done:
				return
			}
		}
		if err != nil {
			select {
			case r.chunks <- chunk{err: err}:
			case <-r.done:
			}
			return
		}
	}
}

// Next 返回下一条 data 行事件。流正常结束返回 io.EOF。
// 上下文取消返回 ctx.Err()，空闲超时返回 TimeoutError，读取失败返回 TransportError。
func (r *Reader) Next(ctx context.Context) (Item, error) {
	for {
		for len(r.pending) > 0 {
			line := r.pending[0]
			r.pending = r.pending[1:]
			event, ok, err := ParseLine(line)
			if !ok {
				continue
			}
			return Item{Event: event, Err: err}, nil
		}

		if r.err != nil {
			return Item{}, r.err
		}
		if r.eof {
			if line, ok := r.decoder.Flush(); ok {
				r.pending = append(r.pending, line)
				continue
			}
			return Item{}, io.EOF
		}

		c, err := r.wait(ctx)
		if err != nil {
			return Item{}, err
		}
		if len(c.data) > 0 {
			r.pending = append(r.pending, r.decoder.Feed(c.data)...)
		}
		if c.err != nil {
			if errors.Is(c.err, io.EOF) {
				r.eof = true
				continue
			}
			r.err = apperrors.NewTransportError("读取生成流失败", c.err)
			return Item{}, r.err
		}
	}
}

// wait 等待下一个数据块
func (r *Reader) wait(ctx context.Context) (chunk, error) {
	var idle <-chan time.Time
	if r.idle > 0 {
		timer := time.NewTimer(r.idle)
		defer timer.Stop()
		idle = timer.C
	}

	select {
	case <-ctx.Done():
		return chunk{}, ctx.Err()
	case <-idle:
		return chunk{}, apperrors.NewTimeoutError("等待生成数据超时", nil)
	case c := <-r.chunks:
		return c, nil
	}
}

// Close 关闭底层连接并停止后台读取
func (r *Reader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.body.Close()
	})
	return err
}
