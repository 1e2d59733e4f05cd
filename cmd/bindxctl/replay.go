/*
   Copyright 2025 The DIRPX Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"dirpx.dev/bindx"
	"dirpx.dev/bindx/apis"
	"dirpx.dev/bindx/builder"
	"dirpx.dev/bindx/config"
	"dirpx.dev/bindx/dependency"
	"dirpx.dev/bindx/filter"
	"dirpx.dev/bindx/interceptor"
	"dirpx.dev/bindx/internal/logging"
)

var replayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml>",
	Short: "Replay a registry scenario against a dependency",
	Long: `Replay registers, modifies and withdraws services as scripted in the
scenario file and prints one JSON line per step, then the final bindings.

Example scenario:

  dependency:
    spec: svc.Clock
    filter: (zone=eu)
    aggregate: false
    policy: dynamic-priority
    comparator: natural
  steps:
    - register: {name: a, rank: 1, props: {zone: eu}}
    - register: {name: b, rank: 5, props: {zone: eu}}
    - reject: (name=b)
    - modify: {name: a, rank: 0, props: {zone: us}}
    - set-filter: (zone=*)
    - unreject: (name=b)
    - unregister: a`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

// scenario is the replay file layout.
type scenario struct {
	Dependency dependencySpec `yaml:"dependency"`
	Steps      []step         `yaml:"steps"`
}

type dependencySpec struct {
	Spec       string  `yaml:"spec"`
	ID         string  `yaml:"id"`
	Filter     *string `yaml:"filter"`
	Aggregate  *bool   `yaml:"aggregate"`
	Optional   *bool   `yaml:"optional"`
	Policy     string  `yaml:"policy"`
	Comparator string  `yaml:"comparator"`
}

// step holds exactly one operation.
type step struct {
	Register   *service `yaml:"register"`
	Modify     *service `yaml:"modify"`
	Unregister string   `yaml:"unregister"`
	Reject     string   `yaml:"reject"`
	Unreject   string   `yaml:"unreject"`
	SetFilter  *string  `yaml:"set-filter"`
}

type service struct {
	Name  string         `yaml:"name"`
	Rank  int            `yaml:"rank"`
	Props map[string]any `yaml:"props"`
}

// record is one output line.
type record struct {
	Step       int      `json:"step,omitempty"`
	Op         string   `json:"op,omitempty"`
	Final      bool     `json:"final,omitempty"`
	Departures []string `json:"departures,omitempty"`
	Arrivals   []string `json:"arrivals,omitempty"`
	Modified   []string `json:"modified,omitempty"`
	Selected   []string `json:"selected"`
	Bound      []string `json:"bound"`
	State      string   `json:"state"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	lcfg := &logging.Config{Level: logLevel, Format: logFormat}
	log, err := logging.New(lcfg)
	if err != nil {
		return err
	}
	defer func() { _ = logging.Sync(log) }()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	sc, err := loadScenario(args[0])
	if err != nil {
		return err
	}
	return replay(sc, cfg, log, cmd.OutOrStdout())
}

func loadScenario(path string) (*scenario, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return parseScenario(content)
}

func parseScenario(content []byte) (*scenario, error) {
	var sc scenario
	if err := yaml.Unmarshal(content, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if sc.Dependency.Spec == "" {
		return nil, errors.New("scenario: dependency.spec is required")
	}
	for i, s := range sc.Steps {
		if _, err := s.op(); err != nil {
			return nil, fmt.Errorf("scenario: step %d: %w", i+1, err)
		}
	}
	return &sc, nil
}

func (s step) op() (string, error) {
	var ops []string
	if s.Register != nil {
		ops = append(ops, "register")
	}
	if s.Modify != nil {
		ops = append(ops, "modify")
	}
	if s.Unregister != "" {
		ops = append(ops, "unregister")
	}
	if s.Reject != "" {
		ops = append(ops, "reject")
	}
	if s.Unreject != "" {
		ops = append(ops, "unreject")
	}
	if s.SetFilter != nil {
		ops = append(ops, "set-filter")
	}
	if len(ops) != 1 {
		return "", fmt.Errorf("want exactly one operation, got %v", ops)
	}
	return ops[0], nil
}

// replayer runs a scenario and collects the binding callbacks of each step.
type replayer struct {
	dep     *dependency.Dependency
	log     *zap.Logger
	track   bool
	names   map[int64]string
	regs    map[string]apis.Registration
	rejects map[string]apis.Registration
	local   map[string]*interceptor.Tracking
	out     *json.Encoder
	current record
}

func replay(sc *scenario, cfg apis.Config, log *zap.Logger, w io.Writer) error {
	d := sc.Dependency
	if d.Filter != nil {
		cfg.Filter = *d.Filter
	}
	if d.Aggregate != nil {
		cfg.Aggregate = *d.Aggregate
	}
	if d.Optional != nil {
		cfg.Optional = *d.Optional
	}
	if d.Policy != "" {
		p, err := apis.ParseBindingPolicy(d.Policy)
		if err != nil {
			return err
		}
		cfg.BindingPolicy = p
	}
	var cmp apis.Comparator
	switch d.Comparator {
	case "", "natural":
	case "lowest":
		cmp = func(a, b apis.Reference) int { return a.Ranking() - b.Ranking() }
	default:
		return fmt.Errorf("unknown comparator %q", d.Comparator)
	}

	bindx.SetAll(&cfg, nil, builder.New(builder.WithLogger(log)), log)

	r := &replayer{
		log:     log,
		track:   cfg.TrackInterceptors,
		names:   make(map[int64]string),
		regs:    make(map[string]apis.Registration),
		rejects: make(map[string]apis.Registration),
		local:   make(map[string]*interceptor.Tracking),
		out:     json.NewEncoder(w),
	}
	opts := []dependency.Option{
		dependency.WithHandler(r.handler()),
		dependency.WithComparator(cmp),
	}
	if d.ID != "" {
		opts = append(opts, dependency.WithID(d.ID))
	}
	dep, err := bindx.NewDependency(d.Spec, opts...)
	if err != nil {
		return err
	}
	r.dep = dep
	if err := dep.Start(); err != nil {
		return err
	}
	defer dep.Stop()

	for i, s := range sc.Steps {
		op, err := s.op()
		if err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		r.current = record{Step: i + 1, Op: op}
		if err := r.apply(op, s); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, op, err)
		}
		if err := r.emit(); err != nil {
			return err
		}
	}
	r.current = record{Final: true}
	return r.emit()
}

func (r *replayer) handler() dependency.Handler {
	return dependency.HandlerFuncs{
		Arrival: func(ref apis.Reference) {
			r.current.Arrivals = append(r.current.Arrivals, r.name(ref))
		},
		Departure: func(ref apis.Reference) {
			r.current.Departures = append(r.current.Departures, r.name(ref))
		},
		Modification: func(ref apis.Reference) {
			r.current.Modified = append(r.current.Modified, r.name(ref))
		},
		Reconfiguration: func(departures, arrivals []apis.Reference) {
			r.current.Departures = append(r.current.Departures, r.nameAll(departures)...)
			r.current.Arrivals = append(r.current.Arrivals, r.nameAll(arrivals)...)
		},
	}
}

func (r *replayer) apply(op string, s step) error {
	reg := bindx.Registry()
	switch op {
	case "register":
		if _, dup := r.regs[s.Register.Name]; dup {
			return fmt.Errorf("service %q already registered", s.Register.Name)
		}
		g, err := reg.Register([]string{r.dep.Specification()}, s.Register.Name, s.Register.properties())
		if err != nil {
			return err
		}
		r.regs[s.Register.Name] = g
		r.names[g.Reference().ID()] = s.Register.Name
	case "modify":
		g, ok := r.regs[s.Modify.Name]
		if !ok {
			return fmt.Errorf("unknown service %q", s.Modify.Name)
		}
		return g.SetProperties(s.Modify.properties())
	case "unregister":
		g, ok := r.regs[s.Unregister]
		if !ok {
			return fmt.Errorf("unknown service %q", s.Unregister)
		}
		delete(r.regs, s.Unregister)
		return g.Unregister()
	case "reject":
		return r.reject(s.Reject)
	case "unreject":
		return r.unreject(s.Unreject)
	case "set-filter":
		f, err := bindx.Builder().BuildFilter(bindx.Config(), *s.SetFilter)
		if err != nil {
			return err
		}
		r.dep.SetFilter(f)
	}
	return nil
}

// reject installs a tracking interceptor refusing the services matching
// expr. It is published in the registry when interceptors are tracked there.
func (r *replayer) reject(expr string) error {
	f, err := filter.Parse(expr)
	if err != nil {
		return err
	}
	ic := interceptor.NewReject("reject "+expr, f)
	if !r.track {
		r.local[expr] = ic
		r.dep.Manager().AddTrackingInterceptor(ic)
		return nil
	}
	target := fmt.Sprintf("(%s=%s)", apis.InstanceNameProperty, r.dep.InstanceName())
	g, err := bindx.Registry().Register([]string{apis.TrackingInterceptorSpec}, ic, map[string]any{
		apis.TargetProperty:       target,
		apis.InstanceNameProperty: ic.Name(),
	})
	if err != nil {
		return err
	}
	r.rejects[expr] = g
	return nil
}

func (r *replayer) unreject(expr string) error {
	if ic, ok := r.local[expr]; ok {
		delete(r.local, expr)
		r.dep.Manager().RemoveTrackingInterceptor(ic)
		return nil
	}
	g, ok := r.rejects[expr]
	if !ok {
		return fmt.Errorf("no rejection for %q", expr)
	}
	delete(r.rejects, expr)
	return g.Unregister()
}

func (r *replayer) emit() error {
	r.current.Selected = r.nameAll(r.dep.Manager().SelectedServices())
	r.current.Bound = r.nameAll(r.dep.ServiceReferences())
	r.current.State = r.dep.State().String()
	r.log.Debug("replay step", zap.Int("step", r.current.Step), zap.String("op", r.current.Op))
	return r.out.Encode(r.current)
}

func (r *replayer) name(ref apis.Reference) string {
	if n, ok := r.names[ref.ID()]; ok {
		return n
	}
	return fmt.Sprintf("#%d", ref.ID())
}

func (r *replayer) nameAll(refs []apis.Reference) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, r.name(ref))
	}
	return out
}

func (s *service) properties() map[string]any {
	props := make(map[string]any, len(s.Props)+2)
	for k, v := range s.Props {
		props[k] = v
	}
	props["name"] = s.Name
	props[apis.ServiceRanking] = s.Rank
	return props
}
