package sandbox

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// fakeDocker backs the driver's network paths. Unrelated API surface answers
// with a sentinel error so accidental use fails loudly.
type fakeDocker struct {
	networks map[string]network.Inspect // by name

	listErr    error
	inspectErr error
	createErr  error

	created []string
	removed []string
}

var errFakeUnused = errors.New("fake: not wired for this test")

func newFakeDocker() *fakeDocker {
	return &fakeDocker{networks: make(map[string]network.Inspect)}
}

func (f *fakeDocker) addNetwork(name, id, subnet string) {
	f.networks[name] = network.Inspect{
		Name: name,
		ID:   id,
		IPAM: network.IPAM{Config: []network.IPAMConfig{{Subnet: subnet}}},
	}
}

func (f *fakeDocker) NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error) {
	if f.createErr != nil {
		return network.CreateResponse{}, f.createErr
	}
	f.created = append(f.created, name)
	id := "net-" + name
	subnet := ""
	if options.IPAM != nil && len(options.IPAM.Config) > 0 {
		subnet = options.IPAM.Config[0].Subnet
	}
	f.addNetwork(name, id, subnet)
	return network.CreateResponse{ID: id}, nil
}

func (f *fakeDocker) NetworkList(ctx context.Context, options network.ListOptions) ([]network.Summary, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []network.Summary
	for _, n := range f.networks {
		out = append(out, n)
	}
	return out, nil
}

func (f *fakeDocker) NetworkInspect(ctx context.Context, networkID string, options network.InspectOptions) (network.Inspect, error) {
	if f.inspectErr != nil {
		return network.Inspect{}, f.inspectErr
	}
	for _, n := range f.networks {
		if n.ID == networkID {
			return n, nil
		}
	}
	return network.Inspect{}, errFakeUnused
}

func (f *fakeDocker) NetworkRemove(ctx context.Context, networkID string) error {
	for name, n := range f.networks {
		if n.ID == networkID {
			delete(f.networks, name)
			f.removed = append(f.removed, name)
			return nil
		}
	}
	return errFakeUnused
}

func (f *fakeDocker) ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error) {
	return types.ImageInspect{}, nil, errFakeUnused
}

func (f *fakeDocker) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	return nil, errFakeUnused
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
	networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	return container.CreateResponse{}, errFakeUnused
}

func (f *fakeDocker) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return errFakeUnused
}

func (f *fakeDocker) ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	return types.ContainerJSON{}, errFakeUnused
}

func (f *fakeDocker) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	return errFakeUnused
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	return errFakeUnused
}

func (f *fakeDocker) ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error) {
	return nil, errFakeUnused
}

func (f *fakeDocker) ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (types.IDResponse, error) {
	return types.IDResponse{}, errFakeUnused
}

func (f *fakeDocker) ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error) {
	return types.HijackedResponse{}, errFakeUnused
}

func (f *fakeDocker) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	return container.ExecInspect{}, errFakeUnused
}

func (d *Driver) octetInUse(octet int) bool {
	d.subnets.mu.Lock()
	defer d.subnets.mu.Unlock()
	return d.subnets.used[octet]
}

func TestCreateNetwork(t *testing.T) {
	f := newFakeDocker()
	d := newDriverWithClient(f)

	ref, err := d.CreateNetwork(context.Background(), "m1")
	if err != nil {
		t.Fatalf("CreateNetwork: %v", err)
	}
	if ref.Name != "match_m1" || ref.Subnet != "172.20.1.0/24" {
		t.Fatalf("ref = %+v", ref)
	}
	if len(f.created) != 1 || f.created[0] != "match_m1" {
		t.Fatalf("created = %v", f.created)
	}
	if !d.octetInUse(1) {
		t.Fatal("allocated octet not marked used")
	}
}

func TestCreateNetworkDuplicateReturnsExisting(t *testing.T) {
	f := newFakeDocker()
	f.addNetwork("match_m1", "net-existing", "172.20.9.0/24")
	d := newDriverWithClient(f)

	ref, err := d.CreateNetwork(context.Background(), "m1")
	if err != nil {
		t.Fatalf("CreateNetwork: %v", err)
	}
	if ref.ID != "net-existing" || ref.Subnet != "172.20.9.0/24" {
		t.Fatalf("existing network not returned: %+v", ref)
	}
	if len(f.created) != 0 {
		t.Fatal("duplicate create reached the runtime")
	}
	if !d.octetInUse(9) {
		t.Fatal("existing network's octet not reserved")
	}
}

func TestCreateNetworkListErrorPropagates(t *testing.T) {
	f := newFakeDocker()
	f.listErr = errors.New("daemon hiccup")
	d := newDriverWithClient(f)

	if _, err := d.CreateNetwork(context.Background(), "m1"); err == nil {
		t.Fatal("list failure did not fail the create")
	}
	if len(f.created) != 0 {
		t.Fatal("network created despite unknown existing state")
	}
	if d.octetInUse(1) {
		t.Fatal("octet leaked on failed create")
	}
}

func TestCreateNetworkFailureReleasesOctet(t *testing.T) {
	f := newFakeDocker()
	f.createErr = errors.New("create failed")
	d := newDriverWithClient(f)

	if _, err := d.CreateNetwork(context.Background(), "m1"); err == nil {
		t.Fatal("create failure not propagated")
	}
	if d.octetInUse(1) {
		t.Fatal("octet leaked on failed create")
	}
}

func TestRemoveNetworkReleasesOctet(t *testing.T) {
	f := newFakeDocker()
	f.addNetwork("match_m1", "net-m1", "172.20.3.0/24")
	d := newDriverWithClient(f)
	d.subnets.reserve(3)

	if err := d.RemoveNetwork(context.Background(), "m1"); err != nil {
		t.Fatalf("RemoveNetwork: %v", err)
	}
	if len(f.removed) != 1 || f.removed[0] != "match_m1" {
		t.Fatalf("removed = %v", f.removed)
	}
	if d.octetInUse(3) {
		t.Fatal("octet not released on remove")
	}
}

func TestRemoveNetworkAbsentIsNoop(t *testing.T) {
	f := newFakeDocker()
	d := newDriverWithClient(f)

	if err := d.RemoveNetwork(context.Background(), "m1"); err != nil {
		t.Fatalf("absent network treated as error: %v", err)
	}
}

func TestRemoveNetworkListErrorPropagates(t *testing.T) {
	f := newFakeDocker()
	f.addNetwork("match_m1", "net-m1", "172.20.3.0/24")
	f.listErr = errors.New("daemon hiccup")
	d := newDriverWithClient(f)
	d.subnets.reserve(3)

	err := d.RemoveNetwork(context.Background(), "m1")
	if err == nil {
		t.Fatal("transient list failure reported as success")
	}
	if len(f.removed) != 0 {
		t.Fatal("network removed despite list failure")
	}
	if !d.octetInUse(3) {
		t.Fatal("octet released although the network still exists")
	}
}

func TestRemoveNetworkInspectErrorPropagates(t *testing.T) {
	f := newFakeDocker()
	f.addNetwork("match_m1", "net-m1", "172.20.3.0/24")
	f.inspectErr = errors.New("daemon hiccup")
	d := newDriverWithClient(f)

	if err := d.RemoveNetwork(context.Background(), "m1"); err == nil {
		t.Fatal("inspect failure reported as success")
	}
	if len(f.removed) != 0 {
		t.Fatal("network removed despite inspect failure")
	}
}
