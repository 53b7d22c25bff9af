package tool

import "encoding/json"

// DangerLevel classifies how much trust a tool call requires before it
// may run, per spec §4.3's tool contract ("a danger flag (safe |
// modifying | dangerous)").
type DangerLevel string

const (
	Safe      DangerLevel = "safe"
	Modifying DangerLevel = "modifying"
	Dangerous DangerLevel = "dangerous"
)

// DangerRater is implemented by tools whose danger level is the same for
// every call. Tools that don't implement it fall back to classifyByID,
// grounded on the teacher's own safe/unsafe tool split: internal/tool/
// read.go, glob.go, grep.go and list.go never touch the filesystem for
// writes; write.go and edit.go do.
type DangerRater interface {
	Danger() DangerLevel
}

// ArgDangerRater is implemented by tools whose danger level depends on
// the specific call's arguments, e.g. bash.go's per-command AST-based
// classification (rm/chmod/git-push-force are dangerous, most shell
// commands are merely modifying).
type ArgDangerRater interface {
	DangerForArgs(args json.RawMessage) DangerLevel
}

// DangerLevelOf returns a tool call's danger level: ArgDangerRater takes
// priority when the tool implements it (the classification genuinely
// depends on args), then DangerRater, then a classification by the
// tool's ID matching the teacher's existing tool set.
func DangerLevelOf(t Tool, args json.RawMessage) DangerLevel {
	if adr, ok := t.(ArgDangerRater); ok {
		return adr.DangerForArgs(args)
	}
	if dr, ok := t.(DangerRater); ok {
		return dr.Danger()
	}
	return classifyByID(t.ID())
}

var modifyingIDs = map[string]bool{
	"Write":     true,
	"edit":      true,
	"webfetch":  true,
	"todowrite": true,
	"bash":      true,
}

func classifyByID(id string) DangerLevel {
	if modifyingIDs[id] {
		return Modifying
	}
	return Safe
}
