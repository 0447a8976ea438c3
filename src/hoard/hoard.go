// Package hoard assembles a block-exchange node from its constituent parts.
// It reads the key and peers files from the data directory, opens the store,
// and wires the transport, node and HTTP service together.
package hoard

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/meshnetworks/hoard/src/cas"
	"github.com/meshnetworks/hoard/src/config"
	"github.com/meshnetworks/hoard/src/keys"
	"github.com/meshnetworks/hoard/src/net"
	"github.com/meshnetworks/hoard/src/node"
	"github.com/meshnetworks/hoard/src/peers"
	"github.com/meshnetworks/hoard/src/service"
	"github.com/meshnetworks/hoard/src/store"
)

// Hoard is a block-exchange node with all its dependencies.
type Hoard struct {
	Config    *config.Config
	Node      *node.Node
	Transport net.Transport
	Store     store.Store
	Peers     *peers.PeerSet
	Service   *service.Service
}

// NewHoard instantiates a Hoard engine from a config object. Call Init before
// Run.
func NewHoard(conf *config.Config) *Hoard {
	engine := &Hoard{
		Config: conf,
	}

	return engine
}

func (h *Hoard) initKey() error {
	if h.Config.Key == nil {
		simpleKeyfile := keys.NewSimpleKeyfile(h.Config.Keyfile())

		privKey, err := simpleKeyfile.ReadKey()

		if err != nil {
			h.Config.Logger().Warnf("Cannot read private key from file: %v", err)

			privKey, err = Keygen(h.Config.Keyfile())

			if err != nil {
				h.Config.Logger().Errorf("Cannot generate a new private key: %v", err)

				return err
			}

			h.Config.Logger().Infof("Created a new key: %s", keys.PublicKeyHex(&privKey.PublicKey))
		}

		h.Config.Key = privKey
	}

	return nil
}

func (h *Hoard) initPeers() error {
	if h.Peers != nil {
		return nil
	}

	peerStore := peers.NewJSONPeerSet(h.Config.DataDir)

	bootPeers, err := peerStore.PeerSet()

	if err != nil {
		return err
	}

	// An empty peer set is fine. The node starts alone and serves peers that
	// dial in later.
	h.Peers = bootPeers

	return nil
}

func (h *Hoard) initStore() error {
	if !h.Config.Store {
		h.Store = store.NewInmemStore()

		h.Config.Logger().Debug("Created new in-mem store")
	} else {
		var err error

		h.Config.Logger().WithField("path", h.Config.DatabaseDir).Debug("Attempting to load or create database")

		h.Store, err = store.NewBadgerStore(h.Config.DatabaseDir)

		if err != nil {
			return err
		}

		h.Config.Logger().Debug("Opened badger store")
	}

	return nil
}

func (h *Hoard) initTransport() error {
	transport, err := net.NewTCPTransport(
		h.Config.BindAddr,
		h.Config.AdvertiseAddr,
		h.Config.TCPTimeout,
		h.Config.Logger(),
	)

	if err != nil {
		return err
	}

	h.Transport = transport

	return nil
}

func (h *Hoard) initNode() error {
	identity := node.NewIdentity(h.Config.Key, h.Config.Moniker)

	h.Config.Logger().WithField("id", identity.ID()).Debug("This node")

	h.Node = node.NewNode(
		h.Config.NodeConfig(),
		identity,
		h.Peers,
		h.Store,
		cas.DefaultRegistry(),
		h.Transport,
	)

	if err := h.Node.Init(); err != nil {
		return fmt.Errorf("failed to initialize node: %s", err)
	}

	return nil
}

func (h *Hoard) initService() error {
	if !h.Config.NoService {
		h.Service = service.NewService(h.Config.ServiceAddr, h.Node, h.Config.Logger())
	}
	return nil
}

// Init instantiates and initialises all the components.
func (h *Hoard) Init() error {
	if err := h.initPeers(); err != nil {
		return err
	}

	if err := h.initStore(); err != nil {
		return err
	}

	if err := h.initTransport(); err != nil {
		return err
	}

	if err := h.initKey(); err != nil {
		return err
	}

	if err := h.initNode(); err != nil {
		return err
	}

	if err := h.initService(); err != nil {
		return err
	}

	return nil
}

// Run starts the service and the node. This is a blocking call.
func (h *Hoard) Run() {
	if h.Service != nil && h.Config.ServiceAddr != "" {
		go h.Service.Serve()
	}

	h.Node.Run()
}

// Keygen generates a new key and persists it to the keyfile. It refuses to
// overwrite an existing key.
func Keygen(keyfile string) (*ecdsa.PrivateKey, error) {
	simpleKeyfile := keys.NewSimpleKeyfile(keyfile)

	if _, err := simpleKeyfile.ReadKey(); err == nil {
		return nil, fmt.Errorf("another key already lives under %s", keyfile)
	}

	privKey, err := keys.GenerateECDSAKey()

	if err != nil {
		return nil, err
	}

	if err := simpleKeyfile.WriteKey(privKey); err != nil {
		return nil, err
	}

	return privKey, nil
}
