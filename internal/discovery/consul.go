// Package discovery регистрирует HTTP API в Consul.
package discovery

import (
	"fmt"
	"net"
	"strconv"

	"github.com/hashicorp/consul/api"
	log "github.com/sirupsen/logrus"
)

// ServiceConfig описывает регистрируемый экземпляр.
type ServiceConfig struct {
	Name string
	ID   string
	// адрес для health check Consul, пустой заменяется исходящим IP
	Address    string
	Port       int
	Tags       []string
	HealthPath string
}

// ConsulClient регистрирует и снимает с регистрации сервис.
type ConsulClient struct {
	agent  *api.Agent
	logger *log.Entry
}

// NewConsulClient подключается к агенту Consul по адресу host:port.
func NewConsulClient(addr string) (*ConsulClient, error) {
	config := api.DefaultConfig()
	config.Address = addr

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	if _, err := client.Agent().Self(); err != nil {
		return nil, fmt.Errorf("failed to connect to consul at %s: %w", addr, err)
	}

	return &ConsulClient{
		agent:  client.Agent(),
		logger: log.WithField("component", "consul"),
	}, nil
}

// Registration собирает описание сервиса с HTTP health check.
func Registration(cfg ServiceConfig) *api.AgentServiceRegistration {
	address := cfg.Address
	if address == "" {
		address = outboundIP()
	}
	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = "/healthz"
	}
	id := cfg.ID
	if id == "" {
		id = cfg.Name + "-" + address + "-" + strconv.Itoa(cfg.Port)
	}

	return &api.AgentServiceRegistration{
		ID:      id,
		Name:    cfg.Name,
		Port:    cfg.Port,
		Address: address,
		Tags:    cfg.Tags,
		Check: &api.AgentServiceCheck{
			HTTP:                           "http://" + net.JoinHostPort(address, strconv.Itoa(cfg.Port)) + healthPath,
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "30s",
		},
	}
}

// Register регистрирует сервис и возвращает его ID.
func (c *ConsulClient) Register(cfg ServiceConfig) (string, error) {
	registration := Registration(cfg)
	if err := c.agent.ServiceRegister(registration); err != nil {
		return "", fmt.Errorf("failed to register service: %w", err)
	}

	c.logger.WithFields(log.Fields{
		"service_id": registration.ID,
		"address":    registration.Address,
		"port":       registration.Port,
	}).Info("service registered in consul")
	return registration.ID, nil
}

// Deregister снимает сервис с регистрации.
func (c *ConsulClient) Deregister(serviceID string) error {
	if err := c.agent.ServiceDeregister(serviceID); err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}
	c.logger.WithField("service_id", serviceID).Info("service deregistered from consul")
	return nil
}

// outboundIP возвращает предпочтительный исходящий IP машины.
func outboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
