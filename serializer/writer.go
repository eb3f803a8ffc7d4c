package serializer

import (
	"io"
	"math"
	"sort"

	"github.com/BWeng20/ruFSM/fsm"
)

func float64bits(v float64) uint64     { return math.Float64bits(v) }
func float64frombits(b uint64) float64 { return math.Float64frombits(b) }

func sortedKeys(m map[string]*fsm.Data) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Write serializes a compiled model into the rfsm form.
func Write(f *fsm.Fsm, w io.Writer) error {
	p := newProtocolWriter(w)
	p.writeHeader()
	p.writeString(f.Name)
	p.writeString(f.Version)
	p.writeString(f.DatamodelName)
	p.writeByte(byte(f.Binding))

	p.writeUint(uint64(len(f.States)))
	for _, s := range f.States {
		p.writeState(s)
	}
	p.writeUint(uint64(len(f.Transitions)))
	for _, t := range f.Transitions {
		p.writeTransition(t)
	}
	p.writeUint(uint64(len(f.Invokes)))
	for _, inv := range f.Invokes {
		p.writeInvoke(inv)
	}
	p.writeUint(uint64(len(f.Executables)))
	for _, block := range f.Executables {
		p.writeBlock(block)
	}
	p.writeInt(int64(f.Script))
	p.writeInt(int64(f.PseudoRoot))
	return p.flush()
}

func (p *protocolWriter) writeHeader() {
	if p.err == nil {
		_, p.err = p.w.Write(magic[:])
	}
	p.writeByte(byte(FormatVersion))
	p.writeByte(byte(FormatVersion >> 8))
	p.writeByte(flagLittleEndian)
}

func (p *protocolWriter) writeStateIds(ids []fsm.StateId) {
	p.writeUint(uint64(len(ids)))
	for _, id := range ids {
		p.writeInt(int64(id))
	}
}

func (p *protocolWriter) writeContentIds(ids []fsm.ExecutableContentId) {
	p.writeUint(uint64(len(ids)))
	for _, id := range ids {
		p.writeInt(int64(id))
	}
}

func (p *protocolWriter) writeState(s *fsm.State) {
	p.writeString(s.Name)
	p.writeInt(int64(s.DocId))
	p.writeInt(int64(s.Initial))
	p.writeStateIds(s.States)
	p.writeBool(s.IsParallel)
	p.writeBool(s.IsFinal)
	p.writeByte(byte(s.HistoryType))
	p.writeContentIds(s.OnEntry)
	p.writeContentIds(s.OnExit)
	p.writeUint(uint64(len(s.Transitions)))
	for _, id := range s.Transitions {
		p.writeInt(int64(id))
	}
	p.writeUint(uint64(len(s.Invokes)))
	for _, id := range s.Invokes {
		p.writeInt(int64(id))
	}
	p.writeStateIds(s.History)
	p.writeUint(uint64(len(s.Data)))
	for _, spec := range s.Data {
		p.writeString(spec.Name)
		p.writeData(spec.Expr)
	}
	p.writeInt(int64(s.Parent))
	p.writeDoneData(s.DoneData)
}

func (p *protocolWriter) writeDoneData(d *fsm.DoneData) {
	if d == nil {
		p.writeBool(false)
		return
	}
	p.writeBool(true)
	p.writeCommonContent(d.Content)
	p.writeParams(d.Params)
}

func (p *protocolWriter) writeCommonContent(c *fsm.CommonContent) {
	if c == nil {
		p.writeBool(false)
		return
	}
	p.writeBool(true)
	p.writeString(c.Content)
	p.writeBool(c.HasContent)
	p.writeString(c.ContentExpr)
}

func (p *protocolWriter) writeParams(params []fsm.Param) {
	p.writeUint(uint64(len(params)))
	for _, param := range params {
		p.writeString(param.Name)
		p.writeString(param.Expr)
		p.writeString(param.Location)
	}
}

func (p *protocolWriter) writeTransition(t *fsm.Transition) {
	p.writeInt(int64(t.DocId))
	p.writeStrings(t.Events)
	p.writeBool(t.Wildcard)
	p.writeData(t.Cond)
	p.writeInt(int64(t.Source))
	p.writeStateIds(t.Target)
	p.writeByte(byte(t.TType))
	p.writeInt(int64(t.Content))
}

func (p *protocolWriter) writeInvoke(inv *fsm.Invoke) {
	p.writeInt(int64(inv.DocId))
	p.writeString(inv.TypeName)
	p.writeString(inv.TypeExpr)
	p.writeString(inv.Src)
	p.writeString(inv.SrcExpr)
	p.writeString(inv.ExternalId)
	p.writeString(inv.ExternalIdLocation)
	p.writeBool(inv.Autoforward)
	p.writeCommonContent(inv.Content)
	p.writeParams(inv.Params)
	p.writeStrings(inv.NameList)
	p.writeInt(int64(inv.Finalize))
	p.writeInt(int64(inv.ParentState))
}

func (p *protocolWriter) writeBlock(block []fsm.ExecutableContent) {
	p.writeUint(uint64(len(block)))
	for _, ec := range block {
		p.writeByte(ec.TypeId())
		switch c := ec.(type) {
		case *fsm.Raise:
			p.writeString(c.Event)
		case *fsm.Log:
			p.writeString(c.Label)
			p.writeData(c.Expression)
		case *fsm.Expression:
			p.writeData(c.Content)
		case *fsm.Assign:
			p.writeData(c.Location)
			p.writeData(c.Expr)
		case *fsm.If:
			p.writeData(c.Condition)
			p.writeInt(int64(c.Content))
			p.writeInt(int64(c.ElseContent))
		case *fsm.ForEach:
			p.writeData(c.Array)
			p.writeString(c.Item)
			p.writeString(c.Index)
			p.writeInt(int64(c.Content))
		case *fsm.Cancel:
			p.writeString(c.SendId)
			p.writeData(c.SendIdExpr)
		case *fsm.Send:
			p.writeString(c.SendId)
			p.writeString(c.SendIdLocation)
			p.writeString(c.Event)
			p.writeData(c.EventExpr)
			p.writeString(c.Target)
			p.writeData(c.TargetExpr)
			p.writeString(c.TypeName)
			p.writeData(c.TypeExpr)
			p.writeInt(c.DelayMs)
			p.writeData(c.DelayExpr)
			p.writeStrings(c.NameList)
			p.writeParams(c.Params)
			p.writeCommonContent(c.Content)
		default:
			p.err = &VersionError{What: "unknown executable content"}
		}
	}
}
