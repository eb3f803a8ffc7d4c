// Package serializer implements the versioned binary form (.rfsm) of
// a compiled model: a tagged header followed by length-prefixed
// arenas for states, transitions, invokes and executable content.
package serializer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/BWeng20/ruFSM/fsm"
)

// Magic and version of the rfsm format.
var magic = [4]byte{'R', 'F', 'S', 'M'}

const (
	FormatVersion uint16 = 1

	// flagLittleEndian tags the byte order of the fixed-width
	// header fields.
	flagLittleEndian byte = 0x01
)

// VersionError is returned for unknown versions or unknown field
// tags; future fields must never be accepted silently.
type VersionError struct {
	What string
}

func (e *VersionError) Error() string {
	return "unsupported rfsm format: " + e.What
}

// protocolWriter writes the primitive value layer.
type protocolWriter struct {
	w   *bufio.Writer
	err error
}

func newProtocolWriter(w io.Writer) *protocolWriter {
	return &protocolWriter{w: bufio.NewWriter(w)}
}

func (p *protocolWriter) flush() error {
	if p.err != nil {
		return p.err
	}
	return p.w.Flush()
}

func (p *protocolWriter) writeByte(b byte) {
	if p.err == nil {
		p.err = p.w.WriteByte(b)
	}
}

func (p *protocolWriter) writeUint(v uint64) {
	if p.err != nil {
		return
	}
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, p.err = p.w.Write(buf[:n])
}

func (p *protocolWriter) writeInt(v int64) {
	if p.err != nil {
		return
	}
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutVarint(buf[:], v)
	_, p.err = p.w.Write(buf[:n])
}

func (p *protocolWriter) writeBool(v bool) {
	if v {
		p.writeByte(1)
	} else {
		p.writeByte(0)
	}
}

func (p *protocolWriter) writeString(s string) {
	p.writeUint(uint64(len(s)))
	if p.err == nil {
		_, p.err = p.w.WriteString(s)
	}
}

func (p *protocolWriter) writeStrings(ss []string) {
	p.writeUint(uint64(len(ss)))
	for _, s := range ss {
		p.writeString(s)
	}
}

func (p *protocolWriter) writeDouble(v float64) {
	if p.err != nil {
		return
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], float64bits(v))
	_, p.err = p.w.Write(buf[:])
}

// protocolReader mirrors protocolWriter.
type protocolReader struct {
	r   *bufio.Reader
	err error
}

func newProtocolReader(r io.Reader) *protocolReader {
	return &protocolReader{r: bufio.NewReader(r)}
}

func (p *protocolReader) readByte() byte {
	if p.err != nil {
		return 0
	}
	b, err := p.r.ReadByte()
	p.err = err
	return b
}

func (p *protocolReader) readUint() uint64 {
	if p.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(p.r)
	p.err = err
	return v
}

func (p *protocolReader) readInt() int64 {
	if p.err != nil {
		return 0
	}
	v, err := binary.ReadVarint(p.r)
	p.err = err
	return v
}

func (p *protocolReader) readBool() bool {
	return p.readByte() != 0
}

func (p *protocolReader) readString() string {
	n := p.readUint()
	if p.err != nil {
		return ""
	}
	if n > 1<<24 {
		p.err = fmt.Errorf("string length %d out of range", n)
		return ""
	}
	buf := make([]byte, n)
	_, p.err = io.ReadFull(p.r, buf)
	return string(buf)
}

func (p *protocolReader) readStrings() []string {
	n := int(p.readUint())
	if p.err != nil || n == 0 {
		return nil
	}
	acc := make([]string, n)
	for i := range acc {
		acc[i] = p.readString()
	}
	return acc
}

func (p *protocolReader) readDouble() float64 {
	if p.err != nil {
		return 0
	}
	var buf [8]byte
	_, p.err = io.ReadFull(p.r, buf[:])
	return float64frombits(binary.LittleEndian.Uint64(buf[:]))
}

// Data values are written as a kind byte plus payload; 0xff marks a
// nil pointer.
const nilDataKind byte = 0xff

func (p *protocolWriter) writeData(d *fsm.Data) {
	if d == nil {
		p.writeByte(nilDataKind)
		return
	}
	p.writeByte(byte(d.Kind))
	switch d.Kind {
	case fsm.KindBoolean:
		p.writeBool(d.Bool)
	case fsm.KindInteger:
		p.writeInt(d.Int)
	case fsm.KindDouble:
		p.writeDouble(d.Dbl)
	case fsm.KindString, fsm.KindError:
		p.writeString(d.Str)
	case fsm.KindSource:
		p.writeString(d.Str)
		p.writeInt(int64(d.SourceId))
	case fsm.KindArray:
		p.writeUint(uint64(len(d.Arr)))
		for _, e := range d.Arr {
			p.writeData(e)
		}
	case fsm.KindMap:
		p.writeUint(uint64(len(d.Map)))
		for _, k := range sortedKeys(d.Map) {
			p.writeString(k)
			p.writeData(d.Map[k])
		}
	}
}

func (p *protocolReader) readData() *fsm.Data {
	kind := p.readByte()
	if p.err != nil || kind == nilDataKind {
		return nil
	}
	switch fsm.DataKind(kind) {
	case fsm.KindUndefined:
		return fsm.NewUndefined()
	case fsm.KindNull:
		return fsm.NewNull()
	case fsm.KindBoolean:
		return fsm.NewBoolean(p.readBool())
	case fsm.KindInteger:
		return fsm.NewInteger(p.readInt())
	case fsm.KindDouble:
		return fsm.NewDouble(p.readDouble())
	case fsm.KindString:
		return fsm.NewString(p.readString())
	case fsm.KindError:
		return fsm.NewError(p.readString())
	case fsm.KindSource:
		text := p.readString()
		return fsm.NewSource(text, fsm.DocumentId(p.readInt()))
	case fsm.KindArray:
		n := int(p.readUint())
		acc := make([]*fsm.Data, 0, n)
		for i := 0; i < n && p.err == nil; i++ {
			acc = append(acc, p.readData())
		}
		return fsm.NewArray(acc)
	case fsm.KindMap:
		n := int(p.readUint())
		acc := make(map[string]*fsm.Data, n)
		for i := 0; i < n && p.err == nil; i++ {
			k := p.readString()
			acc[k] = p.readData()
		}
		return fsm.NewMap(acc)
	}
	p.err = &VersionError{What: fmt.Sprintf("data kind %d", kind)}
	return nil
}
