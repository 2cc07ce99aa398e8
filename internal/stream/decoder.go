// internal/stream/decoder.go
package stream

import "bytes"

// LineDecoder 把任意切分的字节块还原为完整的文本行。
// 未以换行结尾的尾部片段保留到下一次 Feed。
type LineDecoder struct {
	buf []byte
}

// NewLineDecoder 创建行解码器
func NewLineDecoder() *LineDecoder {
	return &LineDecoder{}
}

// Feed 追加一个字节块，返回其中所有完整的行（不含换行符）
func (d *LineDecoder) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var lines []string
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := d.buf[:idx]
		line = bytes.TrimSuffix(line, []byte{'\r'})
		lines = append(lines, string(line))
		d.buf = d.buf[idx+1:]
	}

	// 缓冲区耗尽时释放底层数组
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return lines
}

// Flush 在流结束时返回剩余的不完整行
func (d *LineDecoder) Flush() (string, bool) {
	if len(d.buf) == 0 {
		return "", false
	}
	line := string(bytes.TrimSuffix(d.buf, []byte{'\r'}))
	d.buf = nil
	return line, true
}

// Pending 尚未成行的字节数
func (d *LineDecoder) Pending() int {
	return len(d.buf)
}
