package vedirect

import "strings"

// DefaultReserved are MQTT wildcards and '*' which some brokers treat specially.
// VE.Direct has fields like "SER#" that must not become topic names.
const DefaultReserved = "#+*"

func IsReservedKey(key, reserved string) bool {
	return key == "" || strings.ContainsAny(key, reserved)
}

// FilterFields returns copy of fields without reserved keys.
func FilterFields(fields map[string]string, reserved string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if !IsReservedKey(k, reserved) {
			out[k] = v
		}
	}
	return out
}
