package amf

// classKind classifies an AMF3 object's class name for externalizable
// dispatch. Grounded on the original worker's ClassDefinition constructor,
// which maps a fixed set of upstream class names to a small enum.
type classKind int

const (
	classDynamicOrSealed classKind = iota
	classDSK
	classDSA
	classArrayCollection
	classOtherKnown
	classUnknown
)

// knownOtherClasses are externalizable classes this decoder recognises by
// name but does not give bespoke field-level treatment: their payload is a
// single u32-length-prefixed opaque blob, consumed and reported by size.
var knownOtherClasses = map[string]bool{
	"com.riotgames.platform.systemstate.ClientSystemStatesNotification": true,
	"com.riotgames.platform.broadcast.BroadcastNotification":            true,
}

func classifyExternalizable(name string) classKind {
	switch {
	case name == "DSK":
		return classDSK
	case name == "DSA":
		return classDSA
	case name == "flex.messaging.io.ArrayCollection":
		return classArrayCollection
	case knownOtherClasses[name]:
		return classOtherKnown
	default:
		return classUnknown
	}
}

// classTraits is one entry in a per-message class-traits reference table.
type classTraits struct {
	name           string
	externalizable bool
	dynamic        bool
	members        []string
}
