package replay

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/encoding/protowire"

	"zonearena/sim"
	"zonearena/trigger"
	"zonearena/world"
)

// FormatVersion 回放格式版本。规则或记录结构变化时递增，旧文件不会被静默误读
const FormatVersion uint64 = 1

// Magic 文件头
const Magic = "ZARP"

// maxFrame 单帧上限，防止损坏的长度前缀导致巨量分配
const maxFrame = 64 << 20

var (
	ErrSealed  = errors.New("replay sealed")
	ErrVersion = errors.New("unsupported replay version")
	ErrCorrupt = errors.New("corrupt replay")
	// ErrOrder 记录的 tick 必须严格递增
	ErrOrder = errors.New("replay record out of order")
)

// Header 比赛开始时写入：重放所需的全部初始条件
type Header struct {
	Version  uint64         `msgpack:"version"`
	Match    string         `msgpack:"match"`
	TickRate int            `msgpack:"tickRate"`
	Rules    sim.Rules      `msgpack:"rules"`
	Triggers trigger.Config `msgpack:"triggers"`
	Initial  world.Snapshot `msgpack:"initial"`
}

// Record 一个 tick：应用的外部操作与输入、产生的事件、结果状态摘要
type Record struct {
	Tick   uint64        `msgpack:"tick"`
	Ops    []Op          `msgpack:"ops,omitempty"`
	Inputs []sim.Command `msgpack:"inputs,omitempty"`
	Events []world.Event `msgpack:"events,omitempty"`
	Hash   uint64        `msgpack:"hash"`
}

// Footer 封存时写入
type Footer struct {
	Records   uint64 `msgpack:"records"`
	FinalTick uint64 `msgpack:"finalTick"`
	FinalHash uint64 `msgpack:"finalHash"`
}

type frameKind uint8

const (
	frameHeader frameKind = iota + 1
	frameRecord
	frameFooter
)

type frame struct {
	Kind   frameKind `msgpack:"k"`
	Header *Header   `msgpack:"h,omitempty"`
	Record *Record   `msgpack:"r,omitempty"`
	Footer *Footer   `msgpack:"f,omitempty"`
}

// Writer 比赛期间追加记录，Seal 之后不可再写
type Writer struct {
	mu      sync.Mutex
	w       *bufio.Writer
	sealed  bool
	count   uint64
	last    uint64
	started bool
	hash    uint64
}

// NewWriter 写入文件头与比赛初始条件
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	h.Version = FormatVersion
	rw := &Writer{w: bufio.NewWriter(w)}
	if _, err := rw.w.WriteString(Magic); err != nil {
		return nil, err
	}
	if _, err := rw.w.Write(protowire.AppendVarint(nil, FormatVersion)); err != nil {
		return nil, err
	}
	if err := rw.frame(frame{Kind: frameHeader, Header: &h}); err != nil {
		return nil, err
	}
	rw.last = h.Initial.Tick
	rw.hash = 0
	return rw, rw.w.Flush()
}

// Append 追加一个 tick 的记录
func (rw *Writer) Append(r Record) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.sealed {
		return ErrSealed
	}
	if rw.started && r.Tick <= rw.last {
		return fmt.Errorf("%w: tick %d after %d", ErrOrder, r.Tick, rw.last)
	}
	if err := rw.frame(frame{Kind: frameRecord, Record: &r}); err != nil {
		return err
	}
	rw.started = true
	rw.last = r.Tick
	rw.hash = r.Hash
	rw.count++
	return rw.w.Flush()
}

// Seal 写入尾部，之后的 Append 返回 ErrSealed
func (rw *Writer) Seal() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.sealed {
		return ErrSealed
	}
	final := rw.last
	if rw.started {
		final++
	}
	f := Footer{Records: rw.count, FinalTick: final, FinalHash: rw.hash}
	if err := rw.frame(frame{Kind: frameFooter, Footer: &f}); err != nil {
		return err
	}
	rw.sealed = true
	return rw.w.Flush()
}

func (rw *Writer) Sealed() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.sealed
}

func (rw *Writer) Count() uint64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.count
}

func (rw *Writer) frame(f frame) error {
	b, err := msgpack.Marshal(&f)
	if err != nil {
		return err
	}
	if _, err := rw.w.Write(protowire.AppendVarint(nil, uint64(len(b)))); err != nil {
		return err
	}
	_, err = rw.w.Write(b)
	return err
}

// Reader 纯顺序读取
type Reader struct {
	r      *bufio.Reader
	header Header
	footer *Footer
	last   uint64
	n      uint64
}

// NewReader 校验文件头与版本并读出 Header
func NewReader(r io.Reader) (*Reader, error) {
	rr := &Reader{r: bufio.NewReader(r)}
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(rr.r, magic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if !bytes.Equal(magic, []byte(Magic)) {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, magic)
	}
	v, err := rr.varint()
	if err != nil {
		return nil, err
	}
	if v != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, v)
	}
	f, err := rr.frame()
	if err != nil {
		return nil, err
	}
	if f.Kind != frameHeader || f.Header == nil {
		return nil, fmt.Errorf("%w: missing header", ErrCorrupt)
	}
	if f.Header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: header %d", ErrVersion, f.Header.Version)
	}
	rr.header = *f.Header
	return rr, nil
}

func (rr *Reader) Header() Header { return rr.header }

// Next 读取下一条记录；读到尾部后返回 io.EOF，之后可通过 Footer 取得尾部
func (rr *Reader) Next() (Record, error) {
	if rr.footer != nil {
		return Record{}, io.EOF
	}
	f, err := rr.frame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, fmt.Errorf("%w: not sealed", ErrCorrupt)
		}
		return Record{}, err
	}
	switch {
	case f.Kind == frameFooter && f.Footer != nil:
		if f.Footer.Records != rr.n {
			return Record{}, fmt.Errorf("%w: footer counts %d records, read %d", ErrCorrupt, f.Footer.Records, rr.n)
		}
		rr.footer = f.Footer
		return Record{}, io.EOF
	case f.Kind == frameRecord && f.Record != nil:
		if rr.n > 0 && f.Record.Tick <= rr.last {
			return Record{}, fmt.Errorf("%w: tick %d after %d", ErrOrder, f.Record.Tick, rr.last)
		}
		rr.n++
		rr.last = f.Record.Tick
		return *f.Record, nil
	}
	return Record{}, fmt.Errorf("%w: unexpected frame %d", ErrCorrupt, f.Kind)
}

// Footer 只有读到尾部后才有值
func (rr *Reader) Footer() (Footer, bool) {
	if rr.footer == nil {
		return Footer{}, false
	}
	return *rr.footer, true
}

func (rr *Reader) varint() (uint64, error) {
	var buf []byte
	for i := 0; i < binaryMaxVarint; i++ {
		c, err := rr.r.ReadByte()
		if err != nil {
			if i == 0 && errors.Is(err, io.EOF) {
				return 0, io.EOF
			}
			return 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		buf = append(buf, c)
		if c < 0x80 {
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return 0, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: varint too long", ErrCorrupt)
}

const binaryMaxVarint = 10

func (rr *Reader) frame() (frame, error) {
	n, err := rr.varint()
	if err != nil {
		return frame{}, err
	}
	if n > maxFrame {
		return frame{}, fmt.Errorf("%w: frame of %d bytes", ErrCorrupt, n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rr.r, b); err != nil {
		return frame{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var f frame
	if err := msgpack.Unmarshal(b, &f); err != nil {
		return frame{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return f, nil
}
