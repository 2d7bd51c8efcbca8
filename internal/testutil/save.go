package testutil

import (
	"bytes"
	"encoding/binary"
)

// SaveStream builds a minimal binary save in the .NET serialization
// format the companion apps use: one GameState class holding a
// scenario name, a round counter, a slot index and an investigator
// roster. Tests use it wherever a recognizable save artifact is
// needed.
func SaveStream(scenario string, round, slot int32, investigators ...string) []byte {
	var b bytes.Buffer
	u8 := func(v byte) { b.WriteByte(v) }
	i32 := func(v int32) {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(v))
		b.Write(buf[:])
	}
	str := func(s string) {
		n := len(s)
		for {
			c := byte(n & 0x7f)
			n >>= 7
			if n > 0 {
				u8(c | 0x80)
			} else {
				u8(c)
				break
			}
		}
		b.WriteString(s)
	}

	// Stream header, root object id 1.
	u8(0)
	i32(1)
	i32(-1)
	i32(1)
	i32(0)

	// ClassWithMembersAndTypes:
	// GameState{ScenarioName, Round, SaveSlot, InvestigatorIds}.
	u8(5)
	i32(1)
	str("GameState")
	i32(4)
	str("ScenarioName")
	str("Round")
	str("SaveSlot")
	str("InvestigatorIds")
	u8(1) // string
	u8(0) // primitive
	u8(0) // primitive
	u8(5) // object array
	u8(8) // Int32
	u8(8) // Int32
	i32(2) // library id

	u8(6) // BinaryObjectString
	i32(3)
	str(scenario)
	i32(round)
	i32(slot)
	u8(9) // MemberReference
	i32(7)

	// The roster array the reference points at.
	u8(16)
	i32(7)
	i32(int32(len(investigators)))
	id := int32(8)
	for _, name := range investigators {
		u8(6)
		i32(id)
		str(name)
		id++
	}

	u8(11) // MessageEnd
	return b.Bytes()
}
