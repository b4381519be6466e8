package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"hakoniwa-pdu-go/offsetmap"
)

const serviceJSON = `{
  "pduMetaDataSize": 16,
  "services": [
    {
      "name": "Arith",
      "type": "Arith",
      "maxClients": 2,
      "pduSize": {
        "server": {"heapSize": 8},
        "client": {"heapSize": 8}
      }
    }
  ],
  "nodes": [
    {
      "name": "sensor_node",
      "topics": [
        {"topic_name": "pos", "type": "Twist", "pduSize": {"heapSize": 32}}
      ]
    }
  ]
}`

func writeServiceFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "service.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

func TestLoadServiceConfigAndIndex(t *testing.T) {
	dir := t.TempDir()
	path := writeServiceFile(t, dir, serviceJSON)

	sc, err := LoadServiceConfig(path)
	if err != nil {
		t.Fatalf("LoadServiceConfig failed: %v", err)
	}

	idx, err := sc.GetServiceIndex("Arith")
	if err != nil || idx != 0 {
		t.Errorf("GetServiceIndex(Arith) = %d, %v; want 0, nil", idx, err)
	}

	if _, err := sc.GetServiceIndex("NoSuchService"); err == nil {
		t.Error("expected error for unknown service")
	}
}

func TestBuildCompactPduDefSynthesizesServiceAndNodeRobots(t *testing.T) {
	dir := t.TempDir()
	path := writeServiceFile(t, dir, serviceJSON)
	sc, err := LoadServiceConfig(path)
	if err != nil {
		t.Fatalf("LoadServiceConfig failed: %v", err)
	}

	offmap := offsetmap.NewStatic(map[string]int{
		"ArithRequestPacket":  4,
		"ArithResponsePacket": 4,
		"Twist":               20,
	})

	resolver := func(serviceIndex, clientIndex int) (int, int) {
		base := serviceIndex * 100
		return base + clientIndex*2, base + clientIndex*2 + 1
	}

	compact := sc.BuildCompactPduDef(offmap, resolver)
	if len(compact.Robots) != 2 {
		t.Fatalf("expected 2 robots (1 service + 1 node), got %d", len(compact.Robots))
	}

	serviceRobot := compact.Robots[0]
	if serviceRobot.Name != "Arith" {
		t.Errorf("service robot name = %q; want Arith", serviceRobot.Name)
	}
	if len(serviceRobot.Pdus) != 4 {
		t.Fatalf("expected 4 pseudo-channels (2 clients x req/res), got %d", len(serviceRobot.Pdus))
	}
	if serviceRobot.Pdus[0].Name != "req_0" || serviceRobot.Pdus[0].ChannelID != 0 {
		t.Errorf("unexpected first pdu: %+v", serviceRobot.Pdus[0])
	}
	wantSize := 16 + 4 + 8
	if serviceRobot.Pdus[0].PduSize != wantSize {
		t.Errorf("req_0 pdu size = %d; want %d", serviceRobot.Pdus[0].PduSize, wantSize)
	}

	nodeRobot := compact.Robots[1]
	if nodeRobot.Name != "sensor_node" {
		t.Errorf("node robot name = %q; want sensor_node", nodeRobot.Name)
	}
	if len(nodeRobot.Pdus) != 1 || nodeRobot.Pdus[0].Name != "pos" {
		t.Fatalf("unexpected node pdus: %+v", nodeRobot.Pdus)
	}
}

func TestAppendPduDefMergesIntoExisting(t *testing.T) {
	dir := t.TempDir()
	path := writeServiceFile(t, dir, serviceJSON)
	sc, err := LoadServiceConfig(path)
	if err != nil {
		t.Fatalf("LoadServiceConfig failed: %v", err)
	}
	offmap := offsetmap.NewStatic(map[string]int{
		"ArithRequestPacket":  4,
		"ArithResponsePacket": 4,
		"Twist":               20,
	})
	resolver := func(serviceIndex, clientIndex int) (int, int) {
		return clientIndex * 2, clientIndex*2 + 1
	}

	existing := LegacyPduDef{
		Robots: []RobotEntry{
			{Name: "Arith", SHMPduReaders: []PduEntry{{OrgName: "stale", ChannelID: 0, Type: "Old"}}},
		},
	}

	merged := sc.AppendPduDef(existing, offmap, resolver)
	if len(merged.Robots) != 2 {
		t.Fatalf("expected existing Arith robot + new sensor_node robot, got %d", len(merged.Robots))
	}
	arith := merged.Robots[0]
	for _, r := range arith.SHMPduReaders {
		if r.ChannelID == 0 && r.OrgName == "stale" {
			t.Error("expected channel_id 0 to be replaced by synthesized req_0, not left stale")
		}
	}
}

func TestPatchServiceBaseSizeIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeServiceFile(t, dir, serviceJSON)
	sc, err := LoadServiceConfig(path)
	if err != nil {
		t.Fatalf("LoadServiceConfig failed: %v", err)
	}
	offmap := offsetmap.NewStatic(map[string]int{
		"ArithRequestPacket":  4,
		"ArithResponsePacket": 6,
	})

	if updated := sc.PatchServiceBaseSize(offmap); !updated {
		t.Fatal("expected first patch to report updated")
	}
	firstPass, err := json.Marshal(sc.file)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	sc.PatchServiceBaseSize(offmap)
	secondPass, err := json.Marshal(sc.file)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	if string(firstPass) != string(secondPass) {
		t.Errorf("patch is not idempotent:\nfirst:  %s\nsecond: %s", firstPass, secondPass)
	}

	srv := sc.file.Services[0]
	if srv.PduSize.Server.BaseSize == nil || *srv.PduSize.Server.BaseSize != 4 {
		t.Errorf("server base size = %v; want 4", srv.PduSize.Server.BaseSize)
	}
	if srv.PduSize.Client.BaseSize == nil || *srv.PduSize.Client.BaseSize != 6 {
		t.Errorf("client base size = %v; want 6", srv.PduSize.Client.BaseSize)
	}

	node := sc.file.Nodes[0]
	if node.Topics[0].ChannelID == nil || *node.Topics[0].ChannelID != 0 {
		t.Errorf("topic channel_id = %v; want 0", node.Topics[0].ChannelID)
	}
}

func TestLoadServiceConfigMissingFileFails(t *testing.T) {
	_, err := LoadServiceConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
