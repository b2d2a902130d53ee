package cluster

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/rileyhilliard/chdig/internal/errors"
	"github.com/rileyhilliard/chdig/internal/transport"
)

// DiscoverQuery lists the members of a cluster as seen by one host.
const DiscoverQuery = `SELECT host_name, port, shard_num, replica_num
FROM system.clusters
WHERE cluster = @cluster
ORDER BY shard_num, replica_num`

// Discover reads the cluster layout from system.clusters on the seed host.
// Hosts are ordered by (shard, replica). When any shard has more than one
// replica, every host gets RoleReplica; otherwise RoleShard.
func Discover(ctx context.Context, conn transport.Conn, seed, clusterName string) ([]HostSpec, error) {
	res, err := conn.Execute(ctx, seed, DiscoverQuery, transport.Params{"cluster": clusterName})
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrTransport,
			fmt.Sprintf("Cannot read system.clusters from %s", seed),
			"Check the seed host is reachable and the user can read system tables.")
	}

	idx := map[string]int{}
	for _, col := range []string{"host_name", "port", "shard_num", "replica_num"} {
		i := res.ColumnIndex(col)
		if i < 0 {
			return nil, errors.New(errors.ErrQuery,
				fmt.Sprintf("system.clusters result lacks column %s", col),
				"This server version is not supported for discovery; list hosts explicitly.")
		}
		idx[col] = i
	}

	var specs []HostSpec
	replicas := map[int]int{}
	for _, row := range res.Rows {
		name, _ := row[idx["host_name"]].(string)
		port, ok1 := toInt(row[idx["port"]])
		shard, ok2 := toInt(row[idx["shard_num"]])
		replica, ok3 := toInt(row[idx["replica_num"]])
		if name == "" || !ok1 || !ok2 || !ok3 {
			continue
		}
		addr := net.JoinHostPort(name, strconv.Itoa(port))
		specs = append(specs, HostSpec{ID: addr, Address: addr, Shard: shard, Replica: replica})
		replicas[shard]++
	}

	if len(specs) == 0 {
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("Cluster '%s' not found or empty on %s", clusterName, seed),
			"Check the name against SELECT DISTINCT cluster FROM system.clusters.")
	}

	role := RoleShard
	for _, n := range replicas {
		if n > 1 {
			role = RoleReplica
			break
		}
	}
	for i := range specs {
		specs[i].Role = role
	}
	return specs, nil
}

// toInt converts the unsigned integer types system.clusters uses.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}
