package config

import (
	"encoding/json"
	"fmt"
	"os"

	"hakoniwa-pdu-go/offsetmap"
	"hakoniwa-pdu-go/pdu"
)

// ServiceEntry is one RPC service declaration from the service config
// file (§3 ServiceEntry, §6 service config JSON shape).
type ServiceEntry struct {
	Name    string       `json:"name"`
	Type    string       `json:"type"`
	MaxClients int       `json:"maxClients"`
	PduSize PduSizeConfig `json:"pduSize"`
}

// PduSizeConfig carries the server (request) and client (response) heap
// and base sizes for one service.
type PduSizeConfig struct {
	Server SizeSide `json:"server"`
	Client SizeSide `json:"client"`
}

// SizeSide is one side (server or client) of a service's PDU size
// configuration. BaseSize is filled in by PatchServiceBaseSize if absent.
type SizeSide struct {
	HeapSize int  `json:"heapSize"`
	BaseSize *int `json:"baseSize,omitempty"`
}

// TopicEntry is one broadcast topic declared under a node.
type TopicEntry struct {
	TopicName string          `json:"topic_name"`
	Type      string          `json:"type"`
	ChannelID *int            `json:"channel_id,omitempty"`
	PduSize   TopicSizeConfig `json:"pduSize"`
}

// TopicSizeConfig is a topic's heap size configuration.
type TopicSizeConfig struct {
	HeapSize int `json:"heapSize"`
}

// NodeEntry groups the topics published/subscribed by one simulation node.
type NodeEntry struct {
	Name   string       `json:"name"`
	Topics []TopicEntry `json:"topics"`
}

// ServiceConfigFile is the raw shape of a service.json file (§6).
type ServiceConfigFile struct {
	PduMetaDataSize int            `json:"pduMetaDataSize"`
	Services        []ServiceEntry `json:"services"`
	Nodes           []NodeEntry    `json:"nodes"`
}

// ServiceConfig wraps a loaded service.json and produces the
// service-synthesised robot/channel entries described in §3 and §4.E.
type ServiceConfig struct {
	path string
	file ServiceConfigFile
}

// LoadServiceConfig reads and parses a service.json file.
func LoadServiceConfig(path string) (*ServiceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pdu.ErrConfigLoad, err)
	}
	var file ServiceConfigFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%w: malformed service config: %v", pdu.ErrConfigLoad, err)
	}
	return &ServiceConfig{path: path, file: file}, nil
}

// GetServiceIndex returns the declaration-order index of a named service.
func (sc *ServiceConfig) GetServiceIndex(serviceName string) (int, error) {
	for i, s := range sc.file.Services {
		if s.Name == serviceName {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", pdu.ErrUnknownService, serviceName)
}

// Services exposes the raw service list (declaration order matters for
// the RPC server's poll_request fairness, §4.G).
func (sc *ServiceConfig) Services() []ServiceEntry {
	return sc.file.Services
}

// ChannelIDResolver resolves (service_index, client_index) to the
// (request_channel_id, response_channel_id) pair for broker-assigned
// (shared-memory) channel allocation (§4.E "Broker-assigned" mode). A nil
// resolver means externally-assigned mode: channel ids are left as -1
// here and assigned by the RPC registration reply instead (§4.E
// "Externally assigned").
type ChannelIDResolver func(serviceIndex, clientIndex int) (reqCh, resCh int)

// BuildCompactPduDef synthesises the per-service robot entries described
// in §3 ServiceEntry / §4.E: one synthetic robot per service, holding
// 2*maxClients pseudo-channels named req_k/res_k, each sized
// meta_size + base_size + heap_size, plus one synthetic robot per node
// holding its declared topics.
//
// Grounded on service_pdudef_builder.py's build_compact_pdudef /
// _append_service_robots_compact / _append_node_robots_compact.
func (sc *ServiceConfig) BuildCompactPduDef(offmap offsetmap.OffsetMap, resolver ChannelIDResolver) CompactPduDef {
	var robots []CompactRobot

	for serviceIndex, entry := range sc.file.Services {
		robot := CompactRobot{Name: entry.Name}
		reqType := entry.Type + "RequestPacket"
		resType := entry.Type + "ResponsePacket"
		reqBaseSize := offmap.GetPduSize(reqType)
		resBaseSize := offmap.GetPduSize(resType)

		for clientIndex := 0; clientIndex < entry.MaxClients; clientIndex++ {
			reqCh, resCh := -1, -1
			if resolver != nil {
				reqCh, resCh = resolver(serviceIndex, clientIndex)
			}
			robot.Pdus = append(robot.Pdus,
				CompactPdu{
					Name:      fmt.Sprintf("req_%d", clientIndex),
					Type:      reqType,
					ChannelID: reqCh,
					PduSize:   sc.file.PduMetaDataSize + reqBaseSize + entry.PduSize.Server.HeapSize,
				},
				CompactPdu{
					Name:      fmt.Sprintf("res_%d", clientIndex),
					Type:      resType,
					ChannelID: resCh,
					PduSize:   sc.file.PduMetaDataSize + resBaseSize + entry.PduSize.Client.HeapSize,
				},
			)
		}
		robots = append(robots, robot)
	}

	for _, node := range sc.file.Nodes {
		robot := CompactRobot{Name: node.Name}
		for _, topic := range node.Topics {
			baseSize := offmap.GetPduSize(topic.Type)
			channelID := 0
			if topic.ChannelID != nil {
				channelID = *topic.ChannelID
			}
			robot.Pdus = append(robot.Pdus, CompactPdu{
				Name:      topic.TopicName,
				Type:      topic.Type,
				ChannelID: channelID,
				PduSize:   sc.file.PduMetaDataSize + baseSize + topic.PduSize.HeapSize,
			})
		}
		robots = append(robots, robot)
	}

	return CompactPduDef{Robots: robots}
}

// AppendPduDef merges the service-synthesised definitions into an
// existing legacy pdudef, mirroring pdudef_merge.append_legacy_pdudef:
// replace-by-channel_id within a robot, else append; unseen robots are
// appended whole.
func (sc *ServiceConfig) AppendPduDef(existing LegacyPduDef, offmap offsetmap.OffsetMap, resolver ChannelIDResolver) LegacyPduDef {
	compact := sc.BuildCompactPduDef(offmap, resolver)
	synthesized := compactToLegacy(compact)

	for _, newRobot := range synthesized.Robots {
		idx := -1
		for i, r := range existing.Robots {
			if r.Name == newRobot.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			existing.Robots = append(existing.Robots, newRobot)
			continue
		}
		existing.Robots[idx].SHMPduReaders = mergeByChannelID(existing.Robots[idx].SHMPduReaders, newRobot.SHMPduReaders)
		existing.Robots[idx].SHMPduWriters = mergeByChannelID(existing.Robots[idx].SHMPduWriters, newRobot.SHMPduWriters)
	}
	return existing
}

// compactToLegacy mirrors service_pdudef_builder.compact_to_legacy_pdudef:
// services synthesise read-only req_k and write-only res_k channels; node
// topics are read/write ("both").
func compactToLegacy(compact CompactPduDef) LegacyPduDef {
	var robots []RobotEntry
	for _, robot := range compact.Robots {
		var readers, writers []PduEntry
		for _, p := range robot.Pdus {
			entry := PduEntry{
				Type:       p.Type,
				OrgName:    p.Name,
				Name:       fmt.Sprintf("%s_%s", robot.Name, p.Name),
				ChannelID:  p.ChannelID,
				PduSize:    p.PduSize,
				WriteCycle: 1,
				MethodType: "SHM",
			}
			switch {
			case len(p.Name) >= 4 && p.Name[:4] == "req_":
				readers = append(readers, entry)
			case len(p.Name) >= 4 && p.Name[:4] == "res_":
				writers = append(writers, entry)
			default:
				readers = append(readers, entry)
				writers = append(writers, entry)
			}
		}
		robots = append(robots, RobotEntry{
			Name:          robot.Name,
			SHMPduReaders: readers,
			SHMPduWriters: writers,
		})
	}
	return LegacyPduDef{Robots: robots}
}

// PatchServiceBaseSize fills in baseSize for each service PDU type from
// the offset map, and assigns sequential topic channel_ids. Idempotent:
// running it twice changes nothing after the first (existing baseSize
// values are left untouched; channel_id assignment always recomputes the
// same sequence since it depends only on declaration order).
//
// Grounded on service_config_patch.py's patch_service_base_size_data /
// assign_channel_ids.
func (sc *ServiceConfig) PatchServiceBaseSize(offmap offsetmap.OffsetMap) bool {
	updated := false

	for i := range sc.file.Services {
		srv := &sc.file.Services[i]
		if srv.PduSize.Server.BaseSize == nil {
			size := offmap.GetPduSize(srv.Type + "RequestPacket")
			srv.PduSize.Server.BaseSize = &size
			updated = true
		}
		if srv.PduSize.Client.BaseSize == nil {
			size := offmap.GetPduSize(srv.Type + "ResponsePacket")
			srv.PduSize.Client.BaseSize = &size
			updated = true
		}
	}

	for _, node := range sc.file.Nodes {
		current := 0
		for i := range node.Topics {
			id := current
			node.Topics[i].ChannelID = &id
			current++
			updated = true
		}
	}

	return updated
}

// Save writes the (possibly patched) service config back to disk.
func (sc *ServiceConfig) Save(outputPath string) error {
	if outputPath == "" {
		outputPath = sc.path
	}
	raw, err := json.MarshalIndent(sc.file, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, raw, 0o644)
}
