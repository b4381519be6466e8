// Package config implements the PDU channel configuration model (§4.A) and
// the service configuration model (§4.E): parsing, normalisation,
// deduplication, merging, and the query surface both transports and the
// PDU manager consume.
//
// Grounded on _examples/original_source/src/hakoniwa_pdu/impl/pdu_channel_config.py
// and .../service_config.py, generalized from Python dict-shaped JSON into
// typed Go structs following the teacher's plain encoding/json style
// (codec/json_codec.go never reaches for anything beyond the standard
// library, and neither does this package).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"hakoniwa-pdu-go/pdu"
)

// PduEntry is one wire-format channel entry as it appears inside a
// robot's reader/writer list.
type PduEntry struct {
	Type       string `json:"type"`
	OrgName    string `json:"org_name"`
	Name       string `json:"name"`
	ChannelID  int    `json:"channel_id"`
	PduSize    int    `json:"pdu_size"`
	WriteCycle int    `json:"write_cycle,omitempty"`
	MethodType string `json:"method_type,omitempty"`
}

// RobotEntry is one robot's full set of reader/writer channels in the
// normalised legacy shape.
type RobotEntry struct {
	Name           string     `json:"name"`
	RPCPduReaders  []PduEntry `json:"rpc_pdu_readers"`
	RPCPduWriters  []PduEntry `json:"rpc_pdu_writers"`
	SHMPduReaders  []PduEntry `json:"shm_pdu_readers"`
	SHMPduWriters  []PduEntry `json:"shm_pdu_writers"`
}

// LegacyPduDef is the normalised internal shape every config, regardless
// of how it was authored, is converted to.
type LegacyPduDef struct {
	Robots []RobotEntry `json:"robots"`
}

// compact shapes, read directly off disk.
type compactPathRef struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

type compactRobotRef struct {
	Name       string `json:"name"`
	PdutypesID string `json:"pdutypes_id"`
}

type compactPduDef struct {
	Paths  []compactPathRef  `json:"paths"`
	Robots []compactRobotRef `json:"robots"`
}

type compactTypeEntry struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	ChannelID int    `json:"channel_id"`
	PduSize   int    `json:"pdu_size"`
}

// CompactPdu is one entry of the compact, round-trippable
// get_pdudef_compact() output.
type CompactPdu struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	ChannelID int    `json:"channel_id"`
	PduSize   int    `json:"pdu_size"`
}

// CompactRobot groups a robot's deduplicated PDU list for
// GetPduDefCompact.
type CompactRobot struct {
	Name string       `json:"name"`
	Pdus []CompactPdu `json:"pdus"`
}

// CompactPduDef is the output shape of GetPduDefCompact.
type CompactPduDef struct {
	Robots []CompactRobot `json:"robots"`
}

type robotChannelKey struct {
	robot     string
	channelID int
}

type robotNameKey struct {
	robot string
	name  string
}

// ChannelConfig answers (robot, channel_id) <-> (name, size, type) queries
// over the normalised channel table, and supports merging in
// service-synthesised entries.
//
// Indices are rebuilt after every mutation; per spec §4.A, querying a
// stale index would be a programming error, so every exported mutator
// ends by calling rebuildIndices — there is no way to observe a stale
// index from outside this package.
type ChannelConfig struct {
	baseDir string
	def     LegacyPduDef

	nameByRobotChannel map[robotChannelKey]string
	sizeByRobotName    map[robotNameKey]int
	typeByRobotName    map[robotNameKey]string
	channelByRobotName map[robotNameKey]int
}

// Load reads a PDU channel config file in either the legacy or compact
// shape and returns a normalised, indexed ChannelConfig.
func Load(path string) (*ChannelConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pdu.ErrConfigLoad, err)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: malformed json in %s: %v", pdu.ErrConfigLoad, path, err)
	}

	cc := &ChannelConfig{baseDir: filepath.Dir(path)}

	if _, isCompact := probe["paths"]; isCompact {
		var compact compactPduDef
		if err := json.Unmarshal(raw, &compact); err != nil {
			return nil, fmt.Errorf("%w: malformed compact config: %v", pdu.ErrConfigLoad, err)
		}
		def, err := cc.convertCompactToLegacy(compact)
		if err != nil {
			return nil, err
		}
		cc.def = def
	} else {
		var legacy LegacyPduDef
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return nil, fmt.Errorf("%w: malformed legacy config: %v", pdu.ErrConfigLoad, err)
		}
		cc.def = ensureLegacyShape(legacy)
	}

	cc.rebuildIndices()
	return cc, nil
}

func ensureLegacyShape(def LegacyPduDef) LegacyPduDef {
	out := LegacyPduDef{Robots: make([]RobotEntry, len(def.Robots))}
	for i, r := range def.Robots {
		out.Robots[i] = RobotEntry{
			Name:          r.Name,
			RPCPduReaders: append([]PduEntry{}, r.RPCPduReaders...),
			RPCPduWriters: append([]PduEntry{}, r.RPCPduWriters...),
			SHMPduReaders: append([]PduEntry{}, r.SHMPduReaders...),
			SHMPduWriters: append([]PduEntry{}, r.SHMPduWriters...),
		}
	}
	return out
}

func (cc *ChannelConfig) convertCompactToLegacy(compact compactPduDef) (LegacyPduDef, error) {
	pdutypes := make(map[string][]compactTypeEntry, len(compact.Paths))
	for _, p := range compact.Paths {
		if p.ID == "" || p.Path == "" {
			continue
		}
		resolved := p.Path
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(cc.baseDir, resolved)
		}
		raw, err := os.ReadFile(resolved)
		if err != nil {
			return LegacyPduDef{}, fmt.Errorf("%w: unknown pdutypes reference %q: %v", pdu.ErrConfigLoad, p.ID, err)
		}
		var entries []compactTypeEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return LegacyPduDef{}, fmt.Errorf("%w: malformed pdutypes file %s: %v", pdu.ErrConfigLoad, resolved, err)
		}
		pdutypes[p.ID] = entries
	}

	var robots []RobotEntry
	for _, r := range compact.Robots {
		entries, ok := pdutypes[r.PdutypesID]
		if !ok {
			return LegacyPduDef{}, fmt.Errorf("%w: robot %q references unknown pdutypes_id %q", pdu.ErrConfigLoad, r.Name, r.PdutypesID)
		}
		seen := make(map[dedupKey]bool, len(entries))
		var pdus []PduEntry
		for _, e := range entries {
			key := dedupKey{e.Name, e.ChannelID, e.Type}
			if seen[key] {
				continue
			}
			seen[key] = true
			pdus = append(pdus, PduEntry{
				Type:       e.Type,
				OrgName:    e.Name,
				Name:       fmt.Sprintf("%s_%s", r.Name, e.Name),
				ChannelID:  e.ChannelID,
				PduSize:    e.PduSize,
				WriteCycle: 1,
				MethodType: "SHM",
			})
		}
		robots = append(robots, RobotEntry{
			Name:          r.Name,
			SHMPduReaders: append([]PduEntry{}, pdus...),
			SHMPduWriters: append([]PduEntry{}, pdus...),
		})
	}
	return LegacyPduDef{Robots: robots}, nil
}

type dedupKey struct {
	orgName   string
	channelID int
	pduType   string
}

func (cc *ChannelConfig) rebuildIndices() {
	cc.nameByRobotChannel = make(map[robotChannelKey]string)
	cc.sizeByRobotName = make(map[robotNameKey]int)
	cc.typeByRobotName = make(map[robotNameKey]string)
	cc.channelByRobotName = make(map[robotNameKey]int)

	for _, robot := range cc.def.Robots {
		for _, ch := range append(append([]PduEntry{}, robot.SHMPduReaders...), robot.SHMPduWriters...) {
			cc.nameByRobotChannel[robotChannelKey{robot.Name, ch.ChannelID}] = ch.OrgName
			cc.sizeByRobotName[robotNameKey{robot.Name, ch.OrgName}] = ch.PduSize
			cc.typeByRobotName[robotNameKey{robot.Name, ch.OrgName}] = ch.Type
			cc.channelByRobotName[robotNameKey{robot.Name, ch.OrgName}] = ch.ChannelID
		}
	}
}

// GetPduName resolves a (robot, channel_id) pair to its PDU short name.
func (cc *ChannelConfig) GetPduName(robotName string, channelID int) (string, bool) {
	name, ok := cc.nameByRobotChannel[robotChannelKey{robotName, channelID}]
	return name, ok
}

// GetPduSize returns the PDU size for (robot, name), or -1 if unknown.
func (cc *ChannelConfig) GetPduSize(robotName, pduName string) int {
	if size, ok := cc.sizeByRobotName[robotNameKey{robotName, pduName}]; ok {
		return size
	}
	return -1
}

// GetPduType returns the PDU type for (robot, name).
func (cc *ChannelConfig) GetPduType(robotName, pduName string) (string, bool) {
	t, ok := cc.typeByRobotName[robotNameKey{robotName, pduName}]
	return t, ok
}

// GetPduChannelID returns the channel_id for (robot, name), or -1 if
// unknown (mirrors the reserved "not yet assigned" sentinel).
func (cc *ChannelConfig) GetPduChannelID(robotName, pduName string) int {
	if id, ok := cc.channelByRobotName[robotNameKey{robotName, pduName}]; ok {
		return id
	}
	return int(pdu.UnassignedChannelID)
}

// GetSHMPduReaders returns every shared-memory reader channel across all
// robots.
func (cc *ChannelConfig) GetSHMPduReaders() []PduEntry {
	var out []PduEntry
	for _, r := range cc.def.Robots {
		out = append(out, r.SHMPduReaders...)
	}
	return out
}

// GetSHMPduWriters returns every shared-memory writer channel across all
// robots.
func (cc *ChannelConfig) GetSHMPduWriters() []PduEntry {
	var out []PduEntry
	for _, r := range cc.def.Robots {
		out = append(out, r.SHMPduWriters...)
	}
	return out
}

// GetPduDef returns the current normalised legacy definition.
func (cc *ChannelConfig) GetPduDef() LegacyPduDef {
	return cc.def
}

// UpdatePduDef replaces robot entries by name: within a robot,
// reader/writer entries replace any existing entry sharing the same
// channel_id, else append (mirrors pdudef_merge.append_legacy_pdudef).
// Indices are rebuilt before returning.
func (cc *ChannelConfig) UpdatePduDef(newDef LegacyPduDef) {
	for _, newRobot := range newDef.Robots {
		idx := -1
		for i, r := range cc.def.Robots {
			if r.Name == newRobot.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			cc.def.Robots = append(cc.def.Robots, newRobot)
			continue
		}
		existing := &cc.def.Robots[idx]
		existing.SHMPduReaders = mergeByChannelID(existing.SHMPduReaders, newRobot.SHMPduReaders)
		existing.SHMPduWriters = mergeByChannelID(existing.SHMPduWriters, newRobot.SHMPduWriters)
		existing.RPCPduReaders = mergeByChannelID(existing.RPCPduReaders, newRobot.RPCPduReaders)
		existing.RPCPduWriters = mergeByChannelID(existing.RPCPduWriters, newRobot.RPCPduWriters)
	}
	cc.rebuildIndices()
}

func mergeByChannelID(existing, incoming []PduEntry) []PduEntry {
	for _, entry := range incoming {
		replaced := false
		for i, e := range existing {
			if e.ChannelID == entry.ChannelID {
				existing[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, entry)
		}
	}
	return existing
}

// GetPduDefCompact returns the deduplicated compact view of the current
// definition: one entry per (org_name, channel_id, type) per robot.
func (cc *ChannelConfig) GetPduDefCompact() CompactPduDef {
	var robots []CompactRobot
	for _, robot := range cc.def.Robots {
		seen := make(map[dedupKey]bool)
		var pdus []CompactPdu
		for _, ch := range append(append([]PduEntry{}, robot.SHMPduReaders...), robot.SHMPduWriters...) {
			key := dedupKey{ch.OrgName, ch.ChannelID, ch.Type}
			if seen[key] {
				continue
			}
			seen[key] = true
			pdus = append(pdus, CompactPdu{
				Name:      ch.OrgName,
				Type:      ch.Type,
				ChannelID: ch.ChannelID,
				PduSize:   ch.PduSize,
			})
		}
		robots = append(robots, CompactRobot{Name: robot.Name, Pdus: pdus})
	}
	return CompactPduDef{Robots: robots}
}
