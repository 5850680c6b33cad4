// Package sandbox is the only component that talks to the container runtime.
// It owns the per-match isolated networks, the subnet pool, container
// provisioning with the engine's resource and security policy, and flag
// injection via in-container exec.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	docker "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/adarena/engine/internal/model"
)

// Labels applied to every engine-owned container and network. Recovery and
// the safety cron identify engine resources by these.
const (
	LabelMatchID     = "match.id"
	LabelTeamID      = "team.id"
	LabelServiceType = "service.type"
	LabelTemplateID  = "template.id"
)

// networkNamePrefix composes per-match network names: match_<matchId>.
const networkNamePrefix = "match_"

const (
	memoryLimitBytes  = 512 << 20
	memoryReservation = 256 << 20
	cpuQuotaMicros    = 50_000
	cpuPeriodMicros   = 100_000
	pidsLimit         = int64(100)
	restartMaxRetries = 3

	stopGraceSeconds = 10
	apiCallTimeout   = 15 * time.Second
)

// dockerAPI is the subset of the Docker client the driver uses. Narrowed for
// fake-backed tests.
type dockerAPI interface {
	NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error)
	NetworkList(ctx context.Context, options network.ListOptions) ([]network.Summary, error)
	NetworkInspect(ctx context.Context, networkID string, options network.InspectOptions) (network.Inspect, error)
	NetworkRemove(ctx context.Context, networkID string) error

	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)

	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)

	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// Driver drives the container runtime. Stateless apart from the subnet pool
// and the network-name → octet table; its callers provide ordering.
type Driver struct {
	cli     dockerAPI
	subnets *subnetPool
}

// NewDriver connects to the runtime via the standard environment
// (DOCKER_HOST etc.) and returns a ready Driver.
func NewDriver() (*Driver, error) {
	cli, err := docker.NewClientWithOpts(docker.FromEnv, docker.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: create docker client: %w", err)
	}
	return newDriverWithClient(cli), nil
}

func newDriverWithClient(cli dockerAPI) *Driver {
	return &Driver{
		cli:     cli,
		subnets: newSubnetPool(),
	}
}

// NetworkRef identifies a created match network.
type NetworkRef struct {
	ID     string
	Name   string
	Subnet string
}

// NetworkName returns the network name for a match id.
func NetworkName(matchID string) string {
	return networkNamePrefix + matchID
}

// MatchIDFromNetworkName derives the match id from an engine network name.
func MatchIDFromNetworkName(name string) (string, bool) {
	if !strings.HasPrefix(name, networkNamePrefix) {
		return "", false
	}
	return name[len(networkNamePrefix):], true
}

// CreateNetwork creates the match's isolated bridge network on a /24 from the
// pool. Creating the same name twice returns the existing network without
// allocating another octet. A failed create releases its octet.
func (d *Driver) CreateNetwork(ctx context.Context, matchID string) (NetworkRef, error) {
	name := NetworkName(matchID)

	ctx, cancel := context.WithTimeout(ctx, apiCallTimeout)
	defer cancel()

	existing, ok, err := d.findNetwork(ctx, name)
	if err != nil {
		return NetworkRef{}, fmt.Errorf("sandbox: create network %s: %w", name, err)
	}
	if ok {
		ref := NetworkRef{ID: existing.ID, Name: name, Subnet: inspectSubnet(existing)}
		d.reserveSubnet(ref.Subnet)
		return ref, nil
	}

	octet, subnet, err := d.subnets.allocate()
	if err != nil {
		return NetworkRef{}, fmt.Errorf("sandbox: create network %s: %w", name, err)
	}

	resp, err := d.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		IPAM: &network.IPAM{
			Driver: "default",
			Config: []network.IPAMConfig{{Subnet: subnet, Gateway: gatewayAddr(octet)}},
		},
		Labels: map[string]string{LabelMatchID: matchID},
	})
	if err != nil {
		d.subnets.release(octet)
		return NetworkRef{}, fmt.Errorf("sandbox: create network %s: %w", name, err)
	}

	return NetworkRef{ID: resp.ID, Name: name, Subnet: subnet}, nil
}

// RemoveNetwork looks up the match network by name and removes it, releasing
// its subnet octet. An absent network is a no-op.
func (d *Driver) RemoveNetwork(ctx context.Context, matchID string) error {
	name := NetworkName(matchID)

	ctx, cancel := context.WithTimeout(ctx, apiCallTimeout)
	defer cancel()

	inspect, ok, err := d.findNetwork(ctx, name)
	if err != nil {
		return fmt.Errorf("sandbox: remove network %s: %w", name, err)
	}
	if !ok {
		return nil
	}
	if err := d.cli.NetworkRemove(ctx, inspect.ID); err != nil {
		return fmt.Errorf("sandbox: remove network %s: %w", name, err)
	}
	d.releaseSubnet(inspectSubnet(inspect))
	return nil
}

// findNetwork resolves a network by exact name. Absence is (zero, false, nil);
// a list or inspect failure is an error, never conflated with absence.
func (d *Driver) findNetwork(ctx context.Context, name string) (network.Inspect, bool, error) {
	list, err := d.cli.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return network.Inspect{}, false, err
	}
	for _, n := range list {
		if n.Name != name {
			continue // the name filter matches substrings
		}
		inspect, err := d.cli.NetworkInspect(ctx, n.ID, network.InspectOptions{})
		if err != nil {
			if docker.IsErrNotFound(err) {
				continue // removed between list and inspect
			}
			return network.Inspect{}, false, err
		}
		return inspect, true, nil
	}
	return network.Inspect{}, false, nil
}

func inspectSubnet(n network.Inspect) string {
	for _, cfg := range n.IPAM.Config {
		if cfg.Subnet != "" {
			return cfg.Subnet
		}
	}
	return ""
}

func (d *Driver) reserveSubnet(subnet string) {
	if octet, ok := parseSubnetOctet(subnet); ok {
		d.subnets.reserve(octet)
	}
}

func (d *Driver) releaseSubnet(subnet string) {
	if octet, ok := parseSubnetOctet(subnet); ok {
		d.subnets.release(octet)
	}
}

func parseSubnetOctet(subnet string) (int, bool) {
	var octet int
	if _, err := fmt.Sscanf(subnet, "172.20.%d.0/24", &octet); err != nil {
		return 0, false
	}
	return octet, true
}

// ProvisionTeamServices creates and starts one container per template on the
// match network, applying the engine's resource and security policy. On any
// template failure every container already created in this call is removed.
func (d *Driver) ProvisionTeamServices(
	ctx context.Context,
	matchID, teamID, networkName string,
	templates []model.ServiceTemplate,
) ([]model.Container, error) {
	created := make([]model.Container, 0, len(templates))

	for _, tpl := range templates {
		c, err := d.provisionService(ctx, matchID, teamID, networkName, tpl)
		if err != nil {
			d.rollbackContainers(created)
			return nil, fmt.Errorf("sandbox: provision %s for team %s: %w", tpl.ID, teamID, err)
		}
		created = append(created, c)
	}
	return created, nil
}

func (d *Driver) rollbackContainers(created []model.Container) {
	for i := len(created) - 1; i >= 0; i-- {
		if err := d.StopAndRemoveContainer(context.Background(), created[i].ID); err != nil {
			log.Printf("sandbox: rollback of container %s failed: %v", created[i].ID, err)
		}
	}
}

func (d *Driver) provisionService(
	ctx context.Context,
	matchID, teamID, networkName string,
	tpl model.ServiceTemplate,
) (model.Container, error) {
	if err := d.ensureImage(ctx, tpl.DockerImage); err != nil {
		return model.Container{}, err
	}

	name := containerName(matchID, teamID, tpl)
	env := make([]string, 0, len(tpl.EnvironmentVars))
	for k, v := range tpl.EnvironmentVars {
		env = append(env, k+"="+v)
	}

	pids := pidsLimit
	createCtx, cancel := context.WithTimeout(ctx, apiCallTimeout)
	defer cancel()

	resp, err := d.cli.ContainerCreate(createCtx,
		&container.Config{
			Image: tpl.DockerImage,
			Env:   env,
			Labels: map[string]string{
				LabelMatchID:     matchID,
				LabelTeamID:      teamID,
				LabelServiceType: string(tpl.Type),
				LabelTemplateID:  tpl.ID,
			},
		},
		&container.HostConfig{
			NetworkMode: container.NetworkMode(networkName),
			Resources: container.Resources{
				Memory:            memoryLimitBytes,
				MemorySwap:        memoryLimitBytes, // swap disabled: swap == memory
				MemoryReservation: memoryReservation,
				CPUQuota:          cpuQuotaMicros,
				CPUPeriod:         cpuPeriodMicros,
				PidsLimit:         &pids,
			},
			CapDrop:     []string{"ALL"},
			SecurityOpt: []string{"no-new-privileges:true"},
			Privileged:  false,
			RestartPolicy: container.RestartPolicy{
				Name:              container.RestartPolicyOnFailure,
				MaximumRetryCount: restartMaxRetries,
			},
		},
		&network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				networkName: {},
			},
		},
		nil,
		name,
	)
	if err != nil {
		return model.Container{}, fmt.Errorf("create container %s: %w", name, err)
	}

	startCtx, cancelStart := context.WithTimeout(ctx, apiCallTimeout)
	defer cancelStart()
	if err := d.cli.ContainerStart(startCtx, resp.ID, container.StartOptions{}); err != nil {
		_ = d.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return model.Container{}, fmt.Errorf("start container %s: %w", name, err)
	}

	inspect, err := d.cli.ContainerInspect(startCtx, resp.ID)
	if err != nil {
		_ = d.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return model.Container{}, fmt.Errorf("inspect container %s: %w", name, err)
	}

	addr := ""
	if inspect.NetworkSettings != nil {
		if ep, ok := inspect.NetworkSettings.Networks[networkName]; ok {
			addr = ep.IPAddress
		}
	}

	return model.Container{
		ID:          resp.ID,
		Address:     addr,
		Port:        tpl.Port,
		Type:        tpl.Type,
		TemplateID:  tpl.ID,
		TeamID:      teamID,
		ServiceID:   teamID + "_" + tpl.ID,
		FlagPath:    tpl.FlagPath,
		HealthCheck: tpl.HealthCheck,
	}, nil
}

func (d *Driver) ensureImage(ctx context.Context, ref string) error {
	inspectCtx, cancel := context.WithTimeout(ctx, apiCallTimeout)
	defer cancel()
	if _, _, err := d.cli.ImageInspectWithRaw(inspectCtx, ref); err == nil {
		return nil
	}

	// Pulls inherit the caller's (provisioning) deadline: they can be slow.
	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	return nil
}

func containerName(matchID, teamID string, tpl model.ServiceTemplate) string {
	short := tpl.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("match-%s-%s-%s-%s", matchID, teamID, tpl.Type, short)
}

// StopAndRemoveContainer gracefully stops a container with a 10-second
// deadline, then force-removes it. Idempotent: an already-stopped or
// already-removed container is not an error.
func (d *Driver) StopAndRemoveContainer(ctx context.Context, containerID string) error {
	grace := stopGraceSeconds
	stopCtx, cancel := context.WithTimeout(ctx, time.Duration(grace+5)*time.Second)
	defer cancel()
	if err := d.cli.ContainerStop(stopCtx, containerID, container.StopOptions{Timeout: &grace}); err != nil {
		if !docker.IsErrNotFound(err) {
			log.Printf("sandbox: stop container %s: %v", containerID, err)
		}
	}

	rmCtx, cancelRm := context.WithTimeout(ctx, apiCallTimeout)
	defer cancelRm()
	if err := d.cli.ContainerRemove(rmCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if docker.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("sandbox: remove container %s: %w", containerID, err)
	}
	return nil
}

// InjectFlag writes the flag value into the container at the given path.
// The value is shell-escaped and the path sanitized so metacharacters cannot
// alter the write command. A non-zero exec exit is an error.
func (d *Driver) InjectFlag(ctx context.Context, containerID, path, value string) error {
	if err := sanitizePath(path); err != nil {
		return fmt.Errorf("sandbox: inject flag into %s: %w", containerID, err)
	}

	cmd := fmt.Sprintf("printf '%%s' %s > %s", shellQuote(value), path)

	ctx, cancel := context.WithTimeout(ctx, apiCallTimeout)
	defer cancel()

	exec, err := d.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          []string{"sh", "-c", cmd},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return fmt.Errorf("sandbox: inject flag into %s: %w", containerID, err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return fmt.Errorf("sandbox: inject flag into %s: %w", containerID, err)
	}
	var stdout, stderr bytes.Buffer
	_, _ = stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
	attach.Close()

	inspect, err := d.cli.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return fmt.Errorf("sandbox: inject flag into %s: %w", containerID, err)
	}
	if inspect.ExitCode != 0 {
		return fmt.Errorf("sandbox: inject flag into %s: write exited %d: %s",
			containerID, inspect.ExitCode, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// RuntimeContainer is an engine-labeled container observed in the runtime.
type RuntimeContainer struct {
	ID      string
	MatchID string
	Created time.Time
}

// RuntimeNetwork is an engine-named network observed in the runtime.
type RuntimeNetwork struct {
	ID         string
	Name       string
	MatchID    string
	Subnet     string
	Containers int
}

// ListMatchContainers returns every container carrying the engine's match
// label, running or not.
func (d *Driver) ListMatchContainers(ctx context.Context) ([]RuntimeContainer, error) {
	ctx, cancel := context.WithTimeout(ctx, apiCallTimeout)
	defer cancel()

	list, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelMatchID)),
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox: list containers: %w", err)
	}

	out := make([]RuntimeContainer, 0, len(list))
	for _, c := range list {
		out = append(out, RuntimeContainer{
			ID:      c.ID,
			MatchID: c.Labels[LabelMatchID],
			Created: time.Unix(c.Created, 0),
		})
	}
	return out, nil
}

// ListMatchNetworks returns every network named with the engine's prefix.
func (d *Driver) ListMatchNetworks(ctx context.Context) ([]RuntimeNetwork, error) {
	ctx, cancel := context.WithTimeout(ctx, apiCallTimeout)
	defer cancel()

	list, err := d.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("sandbox: list networks: %w", err)
	}

	var out []RuntimeNetwork
	for _, n := range list {
		matchID, ok := MatchIDFromNetworkName(n.Name)
		if !ok {
			continue
		}
		inspect, err := d.cli.NetworkInspect(ctx, n.ID, network.InspectOptions{})
		if err != nil {
			continue
		}
		subnet := inspectSubnet(inspect)
		d.reserveSubnet(subnet)
		out = append(out, RuntimeNetwork{
			ID:         n.ID,
			Name:       n.Name,
			MatchID:    matchID,
			Subnet:     subnet,
			Containers: len(inspect.Containers),
		})
	}
	return out, nil
}

// RemoveNetworkByID removes a network directly, releasing its subnet octet.
// Used by recovery and the safety cron against observed networks.
func (d *Driver) RemoveNetworkByID(ctx context.Context, n RuntimeNetwork) error {
	ctx, cancel := context.WithTimeout(ctx, apiCallTimeout)
	defer cancel()
	if err := d.cli.NetworkRemove(ctx, n.ID); err != nil {
		if docker.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("sandbox: remove network %s: %w", n.Name, err)
	}
	d.releaseSubnet(n.Subnet)
	return nil
}
