package client

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/springfiles/spring-hostlist/common"
)

// RunQueryTool sends a single hostlist request and prints the framed reply,
// for manual testing:
//
//	spring-hostlist -query OPEN MOD Evo
func RunQueryTool(config *common.HostlistConfig, args []string) {
	if len(args) == 0 {
		log.Error("Usage: \"-query <COMMAND> <FILTER-TYPE> [SUBSTRING ...]\"")
		return
	}
	request := strings.Join(args, " ")

	address := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	conn, err := net.DialTimeout("tcp", address, 5*time.Second)
	if err != nil {
		log.WithError(err).WithField("address", address).Error("Could not connect to hostlist server.")
		return
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", request); err != nil {
		log.WithError(err).Error("Failed to send request.")
		return
	}
	fmt.Printf("Sent:     '%s'\n", request)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Println(line)
		if strings.HasPrefix(line, "END") {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.WithError(err).Error("Connection failed before the reply finished.")
	}
}
