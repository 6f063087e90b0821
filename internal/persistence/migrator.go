package persistence

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/quicktabs/sync-core/internal/quicktab"
	"github.com/quicktabs/sync-core/internal/telemetry/logger"
)

// layoutTag is the tagged discriminator the migrator's detector resolves to.
// A single detector function maps raw JSON to one of these tags; each tag
// maps to one pure parser. No inheritance or dynamic dispatch required
// (spec §9 design note).
type layoutTag string

const (
	layoutV3    layoutTag = "v3"    // {containers: {...}, saveId, timestamp}
	layoutV2    layoutTag = "v2"    // unwrapped: {<containerId>: {tabs, lastUpdate}, ...}
	layoutV1    layoutTag = "v1"    // legacy flat: {tabs: [...]}
	layoutEmpty layoutTag = "empty" // absent / malformed / non-object
)

type rawContainer struct {
	Tabs       []quicktab.Plain `json:"tabs"`
	LastUpdate time.Time        `json:"lastUpdate"`
}

// detect inspects the raw stored bytes and returns which historical layout
// they are in, per the detector table in spec §4.3.3.
func detect(data []byte) layoutTag {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(data, &generic); err != nil || generic == nil {
		return layoutEmpty
	}
	if _, ok := generic["containers"]; ok {
		return layoutV3
	}
	if _, ok := generic["tabs"]; ok {
		return layoutV1
	}
	if len(generic) == 0 {
		return layoutEmpty
	}
	return layoutV2
}

// migrate converts raw stored bytes of any historical layout into the
// current v3 containers map. It is lossless for fields it understands and
// skips (logs + drops) entries that fail validation — corrupted entries
// never crash a load (spec §4.3.3).
func migrate(data []byte, log *logger.Logger) map[string]ContainerSlice {
	switch detect(data) {
	case layoutV3:
		return parseV3(data, log)
	case layoutV1:
		return parseV1(data, log)
	case layoutV2:
		return parseV2(data, log)
	default:
		return map[string]ContainerSlice{}
	}
}

func parseV3(data []byte, log *logger.Logger) map[string]ContainerSlice {
	var root struct {
		Containers map[string]rawContainer `json:"containers"`
	}
	if err := json.Unmarshal(data, &root); err != nil {
		logCorruption(log, "v3 root", err)
		return map[string]ContainerSlice{}
	}
	out := make(map[string]ContainerSlice, len(root.Containers))
	for containerID, rc := range root.Containers {
		out[containerID] = ContainerSlice{
			Tabs:       filterValid(rc.Tabs, log),
			LastUpdate: rc.LastUpdate,
		}
	}
	return out
}

// parseV2 handles the layout where containers are unwrapped at the root:
// the root object itself is map[containerID]rawContainer.
func parseV2(data []byte, log *logger.Logger) map[string]ContainerSlice {
	var root map[string]rawContainer
	if err := json.Unmarshal(data, &root); err != nil {
		logCorruption(log, "v2 root", err)
		return map[string]ContainerSlice{}
	}
	out := make(map[string]ContainerSlice, len(root))
	for containerID, rc := range root {
		out[containerID] = ContainerSlice{
			Tabs:       filterValid(rc.Tabs, log),
			LastUpdate: rc.LastUpdate,
		}
	}
	return out
}

func parseV1(data []byte, log *logger.Logger) map[string]ContainerSlice {
	var root struct {
		Tabs []quicktab.Plain `json:"tabs"`
	}
	if err := json.Unmarshal(data, &root); err != nil {
		logCorruption(log, "v1 root", err)
		return map[string]ContainerSlice{}
	}
	return map[string]ContainerSlice{
		"<default>": {
			Tabs:       filterValid(root.Tabs, log),
			LastUpdate: time.Now(),
		},
	}
}

// filterValid drops entries whose id/position/size fail Deserialize's
// validation, logging a warning for each but never propagating the error —
// the rest of the container must still load.
func filterValid(plains []quicktab.Plain, log *logger.Logger) []quicktab.Plain {
	out := make([]quicktab.Plain, 0, len(plains))
	for _, p := range plains {
		if _, err := quicktab.Deserialize(p); err != nil {
			if log != nil {
				log.Warn("dropping corrupt quick tab entry during migration",
					zap.String("id", p.ID), zap.Error(err))
			}
			continue
		}
		out = append(out, p)
	}
	return out
}

func logCorruption(log *logger.Logger, what string, err error) {
	if log != nil {
		log.Warn("storage corruption recovered as empty state", zap.String("layout", what), zap.Error(err))
	}
}
