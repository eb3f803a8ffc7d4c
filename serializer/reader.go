package serializer

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BWeng20/ruFSM/fsm"
)

// Read deserializes an rfsm stream into a compiled model.
func Read(r io.Reader) (*fsm.Fsm, error) {
	p := newProtocolReader(r)
	if err := p.readHeader(); err != nil {
		return nil, err
	}

	f := &fsm.Fsm{}
	f.Name = p.readString()
	f.Version = p.readString()
	f.DatamodelName = p.readString()
	f.Binding = fsm.BindingType(p.readByte())

	stateCount := int(p.readUint())
	for i := 0; i < stateCount && p.err == nil; i++ {
		s := p.readState()
		s.Id = fsm.StateId(i + 1)
		f.States = append(f.States, s)
	}
	transitionCount := int(p.readUint())
	for i := 0; i < transitionCount && p.err == nil; i++ {
		t := p.readTransition()
		t.Id = fsm.TransitionId(i + 1)
		f.Transitions = append(f.Transitions, t)
	}
	invokeCount := int(p.readUint())
	for i := 0; i < invokeCount && p.err == nil; i++ {
		inv := p.readInvoke()
		inv.Id = fsm.InvokeId(i + 1)
		f.Invokes = append(f.Invokes, inv)
	}
	blockCount := int(p.readUint())
	for i := 0; i < blockCount && p.err == nil; i++ {
		f.Executables = append(f.Executables, p.readBlock())
	}
	f.Script = fsm.ExecutableContentId(p.readInt())
	f.PseudoRoot = fsm.StateId(p.readInt())

	if p.err != nil {
		return nil, fmt.Errorf("reading rfsm: %w", p.err)
	}
	return f, nil
}

func (p *protocolReader) readHeader() error {
	var m [4]byte
	if _, err := io.ReadFull(p.r, m[:]); err != nil {
		return err
	}
	if !bytes.Equal(m[:], magic[:]) {
		return &VersionError{What: "bad magic"}
	}
	version := uint16(p.readByte()) | uint16(p.readByte())<<8
	if version != FormatVersion {
		return &VersionError{What: fmt.Sprintf("version %d", version)}
	}
	if flags := p.readByte(); flags != flagLittleEndian {
		return &VersionError{What: fmt.Sprintf("flags %#x", flags)}
	}
	return p.err
}

func (p *protocolReader) readStateIds() []fsm.StateId {
	n := int(p.readUint())
	if n == 0 {
		return nil
	}
	acc := make([]fsm.StateId, n)
	for i := range acc {
		acc[i] = fsm.StateId(p.readInt())
	}
	return acc
}

func (p *protocolReader) readContentIds() []fsm.ExecutableContentId {
	n := int(p.readUint())
	if n == 0 {
		return nil
	}
	acc := make([]fsm.ExecutableContentId, n)
	for i := range acc {
		acc[i] = fsm.ExecutableContentId(p.readInt())
	}
	return acc
}

func (p *protocolReader) readState() *fsm.State {
	s := &fsm.State{}
	s.Name = p.readString()
	s.DocId = fsm.DocumentId(p.readInt())
	s.Initial = fsm.TransitionId(p.readInt())
	s.States = p.readStateIds()
	s.IsParallel = p.readBool()
	s.IsFinal = p.readBool()
	s.HistoryType = fsm.HistoryType(p.readByte())
	s.OnEntry = p.readContentIds()
	s.OnExit = p.readContentIds()
	transitionCount := int(p.readUint())
	for i := 0; i < transitionCount; i++ {
		s.Transitions = append(s.Transitions, fsm.TransitionId(p.readInt()))
	}
	invokeCount := int(p.readUint())
	for i := 0; i < invokeCount; i++ {
		s.Invokes = append(s.Invokes, fsm.InvokeId(p.readInt()))
	}
	s.History = p.readStateIds()
	dataCount := int(p.readUint())
	for i := 0; i < dataCount; i++ {
		spec := fsm.DataSpec{Name: p.readString()}
		spec.Expr = p.readData()
		s.Data = append(s.Data, spec)
	}
	s.Parent = fsm.StateId(p.readInt())
	s.DoneData = p.readDoneData()
	return s
}

func (p *protocolReader) readDoneData() *fsm.DoneData {
	if !p.readBool() {
		return nil
	}
	return &fsm.DoneData{
		Content: p.readCommonContent(),
		Params:  p.readParams(),
	}
}

func (p *protocolReader) readCommonContent() *fsm.CommonContent {
	if !p.readBool() {
		return nil
	}
	c := &fsm.CommonContent{}
	c.Content = p.readString()
	c.HasContent = p.readBool()
	c.ContentExpr = p.readString()
	return c
}

func (p *protocolReader) readParams() []fsm.Param {
	n := int(p.readUint())
	if n == 0 {
		return nil
	}
	acc := make([]fsm.Param, n)
	for i := range acc {
		acc[i].Name = p.readString()
		acc[i].Expr = p.readString()
		acc[i].Location = p.readString()
	}
	return acc
}

func (p *protocolReader) readTransition() *fsm.Transition {
	t := &fsm.Transition{}
	t.DocId = fsm.DocumentId(p.readInt())
	t.Events = p.readStrings()
	t.Wildcard = p.readBool()
	t.Cond = p.readData()
	t.Source = fsm.StateId(p.readInt())
	t.Target = p.readStateIds()
	t.TType = fsm.TransitionType(p.readByte())
	t.Content = fsm.ExecutableContentId(p.readInt())
	return t
}

func (p *protocolReader) readInvoke() *fsm.Invoke {
	inv := &fsm.Invoke{}
	inv.DocId = fsm.DocumentId(p.readInt())
	inv.TypeName = p.readString()
	inv.TypeExpr = p.readString()
	inv.Src = p.readString()
	inv.SrcExpr = p.readString()
	inv.ExternalId = p.readString()
	inv.ExternalIdLocation = p.readString()
	inv.Autoforward = p.readBool()
	inv.Content = p.readCommonContent()
	inv.Params = p.readParams()
	inv.NameList = p.readStrings()
	inv.Finalize = fsm.ExecutableContentId(p.readInt())
	inv.ParentState = fsm.StateId(p.readInt())
	return inv
}

func (p *protocolReader) readBlock() []fsm.ExecutableContent {
	n := int(p.readUint())
	var acc []fsm.ExecutableContent
	for i := 0; i < n && p.err == nil; i++ {
		typeId := p.readByte()
		switch typeId {
		case fsm.TypeRaise:
			acc = append(acc, &fsm.Raise{Event: p.readString()})
		case fsm.TypeLog:
			acc = append(acc, &fsm.Log{Label: p.readString(), Expression: p.readData()})
		case fsm.TypeExpression, fsm.TypeScript:
			acc = append(acc, &fsm.Expression{Content: p.readData()})
		case fsm.TypeAssign:
			acc = append(acc, &fsm.Assign{Location: p.readData(), Expr: p.readData()})
		case fsm.TypeIf:
			acc = append(acc, &fsm.If{
				Condition:   p.readData(),
				Content:     fsm.ExecutableContentId(p.readInt()),
				ElseContent: fsm.ExecutableContentId(p.readInt()),
			})
		case fsm.TypeForEach:
			acc = append(acc, &fsm.ForEach{
				Array:   p.readData(),
				Item:    p.readString(),
				Index:   p.readString(),
				Content: fsm.ExecutableContentId(p.readInt()),
			})
		case fsm.TypeCancel:
			acc = append(acc, &fsm.Cancel{SendId: p.readString(), SendIdExpr: p.readData()})
		case fsm.TypeSend:
			send := &fsm.Send{}
			send.SendId = p.readString()
			send.SendIdLocation = p.readString()
			send.Event = p.readString()
			send.EventExpr = p.readData()
			send.Target = p.readString()
			send.TargetExpr = p.readData()
			send.TypeName = p.readString()
			send.TypeExpr = p.readData()
			send.DelayMs = p.readInt()
			send.DelayExpr = p.readData()
			send.NameList = p.readStrings()
			send.Params = p.readParams()
			send.Content = p.readCommonContent()
			acc = append(acc, send)
		default:
			p.err = &VersionError{What: fmt.Sprintf("content type %d", typeId)}
		}
	}
	return acc
}

// FileLoader loads .rfsm files, resolving relative sources against
// the include paths.
type FileLoader struct{}

func (FileLoader) Load(source string, includePaths []string) (*fsm.Fsm, error) {
	candidates := []string{source}
	for _, dir := range includePaths {
		candidates = append(candidates, filepath.Join(dir, source))
	}
	var firstErr error
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return Read(bytes.NewReader(data))
	}
	return nil, fmt.Errorf("can't load '%s': %w", source, firstErr)
}
