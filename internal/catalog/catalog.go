// Package catalog mirrors the rig server's device set: a REST bootstrap
// followed by a standing subscription to property-update messages.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/AllenNeuralDynamics/voxel-client/internal/reactive"
	"github.com/AllenNeuralDynamics/voxel-client/internal/transport"
)

// Access describes whether a property accepts writes.
type Access string

const (
	AccessRO Access = "ro"
	AccessRW Access = "rw"
)

// PropertyInfo is a property's static metadata, fixed at catalog bootstrap.
type PropertyInfo struct {
	Name   string `json:"name"`
	Label  string `json:"label"`
	Desc   string `json:"desc,omitempty"`
	Dtype  string `json:"dtype"`
	Access Access `json:"access"`
	Units  string `json:"units,omitempty"`
}

// CommandInfo is a command's static metadata.
type CommandInfo struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

// propertyValue is the wire shape of one property's runtime value, as sent
// in a bootstrap fetch or a property-update payload: {value, min_val,
// max_val, step_val, options}.
type propertyValue struct {
	Value   any      `json:"value"`
	Min     *float64 `json:"min_val,omitempty"`
	Max     *float64 `json:"max_val,omitempty"`
	Step    *float64 `json:"step_val,omitempty"`
	Options []any    `json:"options,omitempty"`
}

// PropertyModel is a runtime property value. Instances are mutated in
// place, never replaced, so that anything holding a pointer into a
// Device.Values map keeps observing updates.
type PropertyModel struct {
	mu sync.RWMutex
	propertyValue
}

// Snapshot returns a copy of the current value fields, safe to read without
// racing a concurrent applyUpdate.
func (p *PropertyModel) Snapshot() (v any, min, max, step *float64, options []any) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Value, p.Min, p.Max, p.Step, p.Options
}

// applyUpdate replaces this model's fields in place from an incoming
// {value, min_val, max_val, step_val, options} payload, preserving object
// identity.
func (p *PropertyModel) applyUpdate(incoming propertyValue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.propertyValue = incoming
}

// DeviceInterface is a device's static capability description, fetched
// once at bootstrap and never mutated afterward.
type DeviceInterface struct {
	UID        string                  `json:"uid"`
	Type       string                  `json:"type"`
	Commands   map[string]CommandInfo  `json:"commands"`
	Properties map[string]PropertyInfo `json:"properties"`
}

// Device mirrors one server-side device. Values holds one *PropertyModel
// per declared property name; entries are created once at bootstrap and
// mutated in place thereafter.
type Device struct {
	ID        string
	Connected bool
	Interface DeviceInterface
	Values    map[string]*PropertyModel
}

type deviceListEnvelope struct {
	Count   int                       `json:"count"`
	Devices map[string]deviceListItem `json:"devices"`
}

type deviceListItem struct {
	ID        string          `json:"id"`
	Connected bool            `json:"connected"`
	Interface DeviceInterface `json:"interface"`
	Error     string          `json:"error,omitempty"`
}

type propertiesEnvelope struct {
	Device string                   `json:"device"`
	Res    map[string]propertyValue `json:"res"`
	Err    map[string]propertyErr   `json:"err"`
}

type propertyErr struct {
	Msg string `json:"msg"`
}

// Catalog is the reactive mirror of the rig's device set.
type Catalog struct {
	baseURL string
	http    *retryablehttp.Client
	tr      *transport.Transport
	log     zerolog.Logger

	mu      sync.RWMutex
	devices map[string]*Device

	devicesCell *reactive.Cell[[]string] // ordered device IDs, for UI enumeration
}

// New creates a Catalog bound to the rig's REST base URL (for bootstrap)
// and an already-constructed Transport (for the standing subscription).
func New(baseURL string, tr *transport.Transport, log zerolog.Logger) *Catalog {
	client := retryablehttp.NewClient()
	client.Logger = nil // retryablehttp's own logging is disabled
	client.RetryMax = 4
	client.RetryWaitMin = 250 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second

	return &Catalog{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        client,
		tr:          tr,
		log:         log,
		devices:     make(map[string]*Device),
		devicesCell: reactive.NewCell[[]string](nil),
	}
}

// Devices is the observable, ordered list of device IDs known to the
// catalog.
func (c *Catalog) Devices() *reactive.Cell[[]string] { return c.devicesCell }

// Device returns the device entry for id, or nil if unknown. The returned
// pointer, and its Values entries, are stable across subsequent updates.
func (c *Catalog) Device(id string) *Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.devices[id]
}

// Initialize fetches the device set via REST, then the initial property
// values for every connected device, then subscribes to the standing
// "device" topic for all further updates.
func (c *Catalog) Initialize(ctx context.Context) error {
	listing, err := c.fetchDeviceList(ctx)
	if err != nil {
		return fmt.Errorf("catalog: fetch device list: %w", err)
	}

	ids := make([]string, 0, len(listing.Devices))
	c.mu.Lock()
	for id, item := range listing.Devices {
		dev := &Device{
			ID:        id,
			Connected: item.Connected,
			Interface: item.Interface,
			Values:    make(map[string]*PropertyModel, len(item.Interface.Properties)),
		}
		for name := range item.Interface.Properties {
			dev.Values[name] = &PropertyModel{}
		}
		c.devices[id] = dev
		ids = append(ids, id)
	}
	c.mu.Unlock()
	c.devicesCell.Set(ids)

	for _, id := range ids {
		dev := c.Device(id)
		if dev == nil || !dev.Connected || len(dev.Values) == 0 {
			continue
		}
		if err := c.fetchInitialProperties(ctx, dev); err != nil {
			c.log.Warn().Err(err).Str("device", id).Msg("failed to fetch initial properties")
		}
	}

	c.tr.Subscribe("device", c.handlePropertyUpdate)
	return nil
}

func (c *Catalog) fetchDeviceList(ctx context.Context) (*deviceListEnvelope, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/devices", nil)
	if err != nil {
		return nil, err
	}
	var out deviceListEnvelope
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Catalog) fetchInitialProperties(ctx context.Context, dev *Device) error {
	q := url.Values{}
	for name := range dev.Values {
		q.Add("props", name)
	}
	reqURL := fmt.Sprintf("%s/devices/%s/properties?%s", c.baseURL, url.PathEscape(dev.ID), q.Encode())

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	var out propertiesEnvelope
	if err := c.doJSON(req, &out); err != nil {
		return err
	}
	c.applyPropertiesEnvelope(out)
	return nil
}

func (c *Catalog) doJSON(req *retryablehttp.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// handlePropertyUpdate is the Router handler bound to the "device" prefix;
// it applies res entries in place and logs err entries without mutating
// state.
func (c *Catalog) handlePropertyUpdate(msg transport.Message) {
	var env propertiesEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		c.log.Warn().Err(err).Str("topic", msg.Topic).Msg("malformed property update payload")
		return
	}
	c.applyPropertiesEnvelope(env)
}

func (c *Catalog) applyPropertiesEnvelope(env propertiesEnvelope) {
	dev := c.Device(env.Device)
	if dev == nil {
		c.log.Warn().Str("device", env.Device).Msg("property update for unknown device")
		return
	}

	for name, incoming := range env.Res {
		model, ok := dev.Values[name]
		if !ok {
			continue // unknown property: ignored
		}
		model.applyUpdate(incoming)
	}
	for name, e := range env.Err {
		if _, ok := dev.Values[name]; !ok {
			continue
		}
		c.log.Warn().Str("device", env.Device).Str("property", name).Str("reason", e.Msg).Msg("property set rejected")
	}
}

// SetProperty requests a single property change. Confirmation arrives
// asynchronously through the standing subscription, not this call's
// return value.
func (c *Catalog) SetProperty(device, name string, value any) error {
	return c.SetProperties(device, map[string]any{name: value})
}

// SetProperties requests a batch of property changes on one device.
func (c *Catalog) SetProperties(device string, properties map[string]any) error {
	return c.tr.Send("device/set_property", map[string]any{
		"device":     device,
		"properties": properties,
	})
}

// CommandOptions carries per-command options. Wait=true adds
// opts {"wait": true} to the command payload; the zero value omits opts,
// matching the default for move commands. ExecuteCommand does not wait for
// an acknowledgment in either case.
type CommandOptions struct {
	Wait bool
}

// ExecuteCommand dispatches a named command with optional arguments and
// returns once the message is sent. A fresh correlation id is attached to
// every payload under "id"; it is not returned to the caller.
func (c *Catalog) ExecuteCommand(device, command string, args []any, opts CommandOptions) error {
	payload := map[string]any{
		"device":  device,
		"command": command,
		"id":      uuid.NewString(),
	}
	if args != nil {
		payload["args"] = args
	}
	if opts.Wait {
		payload["opts"] = map[string]any{"wait": true}
	}
	return c.tr.Send("device/command", payload)
}
