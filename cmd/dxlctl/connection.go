package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/hipsterbrown/dynamixel/dynamixel"
	"github.com/hipsterbrown/dynamixel/internal/logging"
	"github.com/hipsterbrown/dynamixel/transports"
)

// PasswordEnvVar holds the bridge password so it never has to be typed.
const PasswordEnvVar = "DXL_PASSWORD"

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv(PasswordEnvVar); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal; read a plain line instead
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// openTransport opens either a serial or WebSocket transport based on flags
func openTransport(ctx context.Context) (transports.Port, string, error) {
	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		t, err := transports.DialWebSocket(ctx, transports.WebSocketConfig{
			URL:           wsURL,
			Username:      wsUsername,
			Password:      password,
			SkipSSLVerify: wsNoSSLVerify,
			Timeout:       time.Millisecond,
		})
		if err != nil {
			return nil, "", err
		}
		return t, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		t, err := transports.OpenSerial(transports.SerialConfig{
			Port:     portName,
			BaudRate: baudRate,
			Timeout:  time.Millisecond,
		})
		if err != nil {
			return nil, "", err
		}
		return t, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", errors.New("either --port or --url must be specified")
}

// loadRegistry returns the built-in models plus any from --models.
func loadRegistry() (*dynamixel.Registry, error) {
	registry := dynamixel.DefaultRegistry()
	if modelsFile != "" {
		if err := registry.LoadFile(modelsFile); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func busVersion() (dynamixel.Version, error) {
	switch protocolVersion {
	case 1:
		return dynamixel.Protocol1, nil
	case 2:
		return dynamixel.Protocol2, nil
	}
	return 0, fmt.Errorf("unsupported protocol version %d (use 1 or 2)", protocolVersion)
}

// session is an open bus plus whatever must be closed with it.
type session struct {
	bus     *dynamixel.Bus
	info    string
	capture *os.File
	rec     *transports.Recorder
}

func (s *session) Close() error {
	err := s.bus.Close()
	if s.capture != nil {
		if rerr := s.rec.Err(); rerr != nil {
			logging.GetLogger().Warn("capture incomplete", zap.Error(rerr))
		}
		if cerr := s.capture.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// openSession opens the transport named by the flags and builds a bus on it.
func openSession(ctx context.Context) (*session, error) {
	version, err := busVersion()
	if err != nil {
		return nil, err
	}
	registry, err := loadRegistry()
	if err != nil {
		return nil, err
	}

	port, info, err := openTransport(ctx)
	if err != nil {
		return nil, fmt.Errorf("connection error: %w", err)
	}

	s := &session{info: info}
	var transport dynamixel.Transport = port
	if capturePath != "" {
		f, err := os.Create(capturePath)
		if err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to create capture file: %w", err)
		}
		s.capture = f
		s.rec = transports.NewRecorder(port, f)
		transport = s.rec
	}

	s.bus, err = dynamixel.NewBus(dynamixel.BusConfig{
		Transport: transport,
		Protocol:  version,
		Timeout:   timeout,
		Strict:    strict,
		Registry:  registry,
		Logger:    logging.GetLogger(),
	})
	if err != nil {
		port.Close()
		if s.capture != nil {
			s.capture.Close()
		}
		return nil, err
	}

	logging.GetLogger().Info("bus open", zap.String("connection", info), zap.Stringer("protocol", version))
	return s, nil
}
