package hosttest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/oxy-particles/engine/host"
)

// ErrEntryPointNotFound is returned when a compute pipeline names an entry point absent from the module.
var ErrEntryPointNotFound = errors.New("entry point not found in shader module")

// Instance is a fake host.Instance. Exported fields are knobs read at call time;
// set them before handing the instance to the code under test.
type Instance struct {
	Journal *Journal

	AdapterDelay  time.Duration
	AdapterErr    error
	NoAdapter     bool
	AdapterLimits host.Limits

	DeviceDelay time.Duration
	DeviceErr   error

	// ShaderErr fails every CreateShaderModule call.
	ShaderErr error
	// EntryErrs fails CreateComputePipeline for the named entry points.
	EntryErrs map[string]error
	// LayoutErr fails every CreateBindGroupLayout call.
	LayoutErr error

	WorkDoneDelay time.Duration
	WorkDoneErr   error

	mu       sync.Mutex
	adapters []*Adapter
	devices  []*Device
}

var _ host.Instance = &Instance{}

// NewInstance returns an instance whose adapters report generous limits.
func NewInstance() *Instance {
	return &Instance{
		Journal: &Journal{},
		AdapterLimits: host.Limits{
			MaxBufferSize:                     1 << 30,
			MaxStorageBufferBindingSize:       1 << 28,
			MaxUniformBufferBindingSize:       1 << 16,
			MaxStorageBuffersPerShaderStage:   10,
			MaxComputeWorkgroupsPerDimension:  65535,
			MaxComputeInvocationsPerWorkgroup: 256,
		},
		EntryErrs: map[string]error{},
	}
}

func (i *Instance) RequestAdapter(options host.AdapterOptions) (host.Adapter, error) {
	if i.AdapterDelay > 0 {
		time.Sleep(i.AdapterDelay)
	}
	i.Journal.Record("adapter.request")
	if i.AdapterErr != nil {
		return nil, i.AdapterErr
	}
	if i.NoAdapter {
		return nil, nil
	}
	a := &Adapter{instance: i, limits: i.AdapterLimits}
	i.mu.Lock()
	i.adapters = append(i.adapters, a)
	i.mu.Unlock()
	return a, nil
}

func (i *Instance) Release() {
	i.Journal.Record("instance.release")
}

// Adapters returns every adapter handed out so far.
func (i *Instance) Adapters() []*Adapter {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]*Adapter(nil), i.adapters...)
}

// Devices returns every device handed out so far.
func (i *Instance) Devices() []*Device {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]*Device(nil), i.devices...)
}

// Adapter is a fake host.Adapter.
type Adapter struct {
	instance *Instance
	limits   host.Limits
	released atomic.Bool

	// Requested holds the limits of the last device request.
	Requested host.Limits
}

var _ host.Adapter = &Adapter{}

func (a *Adapter) Limits() host.Limits {
	return a.limits
}

func (a *Adapter) RequestDevice(descriptor host.DeviceDescriptor) (host.Device, error) {
	i := a.instance
	if i.DeviceDelay > 0 {
		time.Sleep(i.DeviceDelay)
	}
	i.Journal.Record("device.request %s", descriptor.Label)
	if i.DeviceErr != nil {
		return nil, i.DeviceErr
	}
	a.Requested = descriptor.Limits
	d := &Device{instance: i, Label: descriptor.Label}
	d.queue = &Queue{device: d}
	i.mu.Lock()
	i.devices = append(i.devices, d)
	i.mu.Unlock()
	return d, nil
}

func (a *Adapter) Release() {
	a.released.Store(true)
	a.instance.Journal.Record("adapter.release")
}

// Released reports whether Release was called.
func (a *Adapter) Released() bool {
	return a.released.Load()
}

// Device is a fake host.Device. It tracks live buffers and textures.
type Device struct {
	Label string

	instance  *Instance
	queue     *Queue
	destroyed atomic.Bool

	mu       sync.Mutex
	buffers  []*Buffer
	textures []*Texture
	nextID   int
}

var _ host.Device = &Device{}

func (d *Device) journal() *Journal {
	return d.instance.Journal
}

func (d *Device) id() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Device) Queue() host.Queue {
	return d.queue
}

func (d *Device) CreateBuffer(descriptor host.BufferDescriptor) (host.Buffer, error) {
	if d.destroyed.Load() {
		return nil, errors.New("device destroyed")
	}
	b := &Buffer{
		ID:      d.id(),
		Label:   descriptor.Label,
		usage:   descriptor.Usage,
		data:    make([]byte, descriptor.Size),
		journal: d.journal(),
	}
	d.mu.Lock()
	d.buffers = append(d.buffers, b)
	d.mu.Unlock()
	d.journal().Record("buffer.create %s %d", descriptor.Label, descriptor.Size)
	return b, nil
}

func (d *Device) CreateTexture(descriptor host.TextureDescriptor) (host.Texture, error) {
	if descriptor.Width == 0 || descriptor.Height == 0 {
		return nil, fmt.Errorf("texture %q has zero extent", descriptor.Label)
	}
	t := &Texture{
		ID:      d.id(),
		Label:   descriptor.Label,
		width:   descriptor.Width,
		height:  descriptor.Height,
		format:  descriptor.Format,
		Usage:   descriptor.Usage,
		journal: d.journal(),
	}
	d.mu.Lock()
	d.textures = append(d.textures, t)
	d.mu.Unlock()
	d.journal().Record("texture.create %s %dx%d", descriptor.Label, descriptor.Width, descriptor.Height)
	return t, nil
}

func (d *Device) CreateSampler(descriptor host.SamplerDescriptor) (host.Sampler, error) {
	d.journal().Record("sampler.create %s", descriptor.Label)
	return &Sampler{Label: descriptor.Label}, nil
}

func (d *Device) CreateShaderModule(label, code string) (host.ShaderModule, error) {
	d.journal().Record("shader.create %s", label)
	if d.instance.ShaderErr != nil {
		return nil, d.instance.ShaderErr
	}
	return &ShaderModule{Label: label, Code: code}, nil
}

func (d *Device) CreateBindGroupLayout(descriptor host.BindGroupLayoutDescriptor) (host.BindGroupLayout, error) {
	d.journal().Record("layout.create %s", descriptor.Label)
	if d.instance.LayoutErr != nil {
		return nil, d.instance.LayoutErr
	}
	entries := append([]host.BindGroupLayoutEntry(nil), descriptor.Entries...)
	return &BindGroupLayout{Label: descriptor.Label, Entries: entries}, nil
}

func (d *Device) CreateBindGroup(descriptor host.BindGroupDescriptor) (host.BindGroup, error) {
	if descriptor.Layout == nil {
		return nil, errors.New("bind group requires a layout")
	}
	d.journal().Record("bindgroup.create %s", descriptor.Label)
	entries := append([]host.BindGroupEntry(nil), descriptor.Entries...)
	return &BindGroup{Label: descriptor.Label, Layout: descriptor.Layout, Entries: entries}, nil
}

func (d *Device) CreateComputePipeline(descriptor host.ComputePipelineDescriptor) (host.ComputePipeline, error) {
	d.journal().Record("compute.create %s", descriptor.EntryPoint)
	if err, ok := d.instance.EntryErrs[descriptor.EntryPoint]; ok && err != nil {
		return nil, err
	}
	module, ok := descriptor.Module.(*ShaderModule)
	if !ok || !module.defines(descriptor.EntryPoint) {
		return nil, fmt.Errorf("%w: %s", ErrEntryPointNotFound, descriptor.EntryPoint)
	}
	return &ComputePipeline{Label: descriptor.Label, Entry: descriptor.EntryPoint, Layout: descriptor.Layout}, nil
}

func (d *Device) CreateRenderPipeline(descriptor host.RenderPipelineDescriptor) (host.RenderPipeline, error) {
	d.journal().Record("render.create %s %s/%s", descriptor.Label, descriptor.VertexEntry, descriptor.FragmentEntry)
	module, ok := descriptor.Module.(*ShaderModule)
	if !ok || !module.defines(descriptor.VertexEntry) || !module.defines(descriptor.FragmentEntry) {
		return nil, fmt.Errorf("%w: %s/%s", ErrEntryPointNotFound, descriptor.VertexEntry, descriptor.FragmentEntry)
	}
	return &RenderPipeline{Label: descriptor.Label, Format: descriptor.TargetFormat}, nil
}

func (d *Device) CreateCommandEncoder(label string) (host.CommandEncoder, error) {
	return &CommandEncoder{Label: label}, nil
}

func (d *Device) Destroy() {
	d.destroyed.Store(true)
	d.journal().Record("device.destroy")
}

// Destroyed reports whether Destroy was called.
func (d *Device) Destroyed() bool {
	return d.destroyed.Load()
}

// LiveBuffers returns the buffers created and not yet released.
func (d *Device) LiveBuffers() []*Buffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	var live []*Buffer
	for _, b := range d.buffers {
		if !b.Released() {
			live = append(live, b)
		}
	}
	return live
}

// LiveTextures returns the textures created and not yet released.
func (d *Device) LiveTextures() []*Texture {
	d.mu.Lock()
	defer d.mu.Unlock()
	var live []*Texture
	for _, t := range d.textures {
		if !t.Released() {
			live = append(live, t)
		}
	}
	return live
}

// Queue is a fake host.Queue. Submitted copy commands are applied to buffer contents in order.
type Queue struct {
	device *Device

	mu        sync.Mutex
	submitted []*CommandBuffer
}

var _ host.Queue = &Queue{}

func (q *Queue) WriteBuffer(buffer host.Buffer, offset uint64, data []byte) error {
	b, ok := buffer.(*Buffer)
	if !ok {
		return errors.New("foreign buffer")
	}
	q.device.journal().Record("queue.write %s %d %d", b.Label, offset, len(data))
	return b.write(offset, data)
}

func (q *Queue) Submit(commands ...host.CommandBuffer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, c := range commands {
		cb := c.(*CommandBuffer)
		for _, cmd := range cb.Commands {
			if cmd.Kind == CommandCopy {
				_ = cmd.Destination.write(cmd.DestinationOffset, cmd.Source.read(cmd.SourceOffset, cmd.Size))
			}
		}
		q.submitted = append(q.submitted, cb)
	}
	q.device.journal().Record("queue.submit %d", len(commands))
}

func (q *Queue) WaitIdle(ctx context.Context) error {
	q.device.journal().Record("queue.wait")
	if delay := q.device.instance.WorkDoneDelay; delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return q.device.instance.WorkDoneErr
}

// Submitted returns every command buffer submitted so far.
func (q *Queue) Submitted() []*CommandBuffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*CommandBuffer(nil), q.submitted...)
}

// Surface is a fake host.Surface.
type Surface struct {
	Journal *Journal

	Formats        []host.TextureFormat
	AlphaModes     []host.AlphaMode
	ConfigureErr   error
	UnconfigureErr error

	// Config holds the last applied configuration.
	Config *host.SurfaceConfiguration
	frame  *TextureView
}

var _ host.Surface = &Surface{}

// NewSurface returns a surface supporting bgra8unorm with opaque and premultiplied alpha.
func NewSurface(journal *Journal) *Surface {
	return &Surface{
		Journal:    journal,
		Formats:    []host.TextureFormat{host.TextureFormatBGRA8Unorm, host.TextureFormatRGBA8Unorm},
		AlphaModes: []host.AlphaMode{host.AlphaModeOpaque, host.AlphaModePremultiplied},
	}
}

func (s *Surface) Capabilities(host.Adapter) host.SurfaceCapabilities {
	return host.SurfaceCapabilities{Formats: s.Formats, AlphaModes: s.AlphaModes}
}

func (s *Surface) Configure(_ host.Adapter, _ host.Device, config host.SurfaceConfiguration) error {
	s.Journal.Record("surface.configure %dx%d", config.Width, config.Height)
	if s.ConfigureErr != nil {
		return s.ConfigureErr
	}
	c := config
	s.Config = &c
	return nil
}

func (s *Surface) Unconfigure() error {
	s.Journal.Record("surface.unconfigure")
	s.Config = nil
	return s.UnconfigureErr
}

func (s *Surface) CurrentTexture() (host.TextureView, error) {
	if s.Config == nil {
		return nil, errors.New("surface not configured")
	}
	s.frame = &TextureView{Texture: &Texture{Label: "surface", width: s.Config.Width, height: s.Config.Height, format: s.Config.Format}}
	return s.frame, nil
}

func (s *Surface) Present() {
	s.Journal.Record("surface.present")
	s.frame = nil
}

var entryRegexCache sync.Map

// defines reports whether the module source declares fn name.
func (m *ShaderModule) defines(name string) bool {
	re, ok := entryRegexCache.Load(name)
	if !ok {
		re, _ = entryRegexCache.LoadOrStore(name, regexp.MustCompile(`\bfn\s+`+regexp.QuoteMeta(name)+`\s*\(`))
	}
	return re.(*regexp.Regexp).MatchString(m.Code)
}
