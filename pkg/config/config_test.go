package config

import (
	"strings"
	"testing"
	"time"
)

func TestParse_OverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
logger:
  level: DEBUG
  json: true
coordinator:
  servers: ["zk1:2181", "zk2:2181"]
  root: /kv
controller:
  remove_grace: 500ms
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.Logger.JSON || cfg.Logger.Level != "DEBUG" {
		t.Fatalf("logger = %+v", cfg.Logger)
	}
	if len(cfg.Coordinator.Servers) != 2 || cfg.Coordinator.Root != "/kv" {
		t.Fatalf("coordinator = %+v", cfg.Coordinator)
	}
	if cfg.Controller.RemoveGrace != 500*time.Millisecond {
		t.Fatalf("remove_grace = %s", cfg.Controller.RemoveGrace)
	}
	// не указанные поля остаются значениями по умолчанию
	if cfg.Controller.StartTimeout != Default().Controller.StartTimeout {
		t.Fatalf("start_timeout = %s", cfg.Controller.StartTimeout)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := []string{
		"logger:\n  level: LOUD\n",
		"coordinator:\n  root: relative\n",
		"node:\n  port: 70000\n",
		"logger: [",
	}
	for _, in := range cases {
		if _, err := Parse([]byte(in)); err == nil {
			t.Fatalf("Parse(%q) accepted invalid config", in)
		}
	}
}

func TestParsePool(t *testing.T) {
	members, err := ParsePool(strings.NewReader(`
# name host port
server1 127.0.0.1 50000
server2   127.0.0.1	50001

server3 10.0.0.7 50002
`))
	if err != nil {
		t.Fatalf("ParsePool: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("members = %+v", members)
	}
	if members[1].Name != "server2" || members[1].Port != 50001 || members[2].Host != "10.0.0.7" {
		t.Fatalf("members = %+v", members)
	}
}

func TestParsePool_Errors(t *testing.T) {
	cases := []string{
		"server1 127.0.0.1\n",
		"server1 127.0.0.1 port\n",
		"server1 127.0.0.1 0\n",
		"a 127.0.0.1 1\na 127.0.0.1 2\n",
		"rack1/server1 127.0.0.1 50000\n",
		"server1 10.0.0.1/24 50000\n",
	}
	for _, in := range cases {
		if _, err := ParsePool(strings.NewReader(in)); err == nil {
			t.Fatalf("ParsePool(%q) accepted bad input", in)
		}
	}
}
