package service

import (
	"encoding/json"
	"net/http"

	cid "github.com/ipfs/go-cid"
	"github.com/meshnetworks/hoard/src/node"
	"github.com/sirupsen/logrus"
)

// Service exposes a node's store and statistics over HTTP. The node API is
// safe for concurrent use, so handlers run unserialised; a slow /block fetch
// does not hold up /stats.
type Service struct {
	bindAddress string
	node        *node.Node
	logger      *logrus.Entry
}

// NewService instantiates the service and registers the API handlers.
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of the
// http package. It is possible that another server in the same process is
// simultaneously using the DefaultServerMux. In which case, the handlers will
// be accessible from both servers. This is usefull when Hoard is used
// in-memory and expecpted to use the same endpoint (address:port) as the
// application's API.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering Hoard API handlers")
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
	http.HandleFunc("/block/", s.makeHandler(s.GetBlock))
	http.HandleFunc("/aliases", s.makeHandler(s.GetAliases))
	http.HandleFunc("/alias/", s.makeHandler(s.ResolveAlias))
	http.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	http.HandleFunc("/gc", s.makeHandler(s.CollectGarbage))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call. It is not necessary to
// call Serve when Hoard is used in-memory and another server has already been
// started with the DefaultServerMux and the same address:port combination.
// Indeed, Hoard API handlers have already been registered when the service was
// instantiated.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving Hoard API")

	// Use the DefaultServerMux
	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats returns the node's statistics.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.node.GetStats()

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// blockJSON is the wire representation of a block. The payload is base64
// encoded by the json package.
type blockJSON struct {
	Address string `json:"address"`
	Payload []byte `json:"payload"`
}

// GetBlock retrieves a block by content address. The request blocks until the
// block is found, the retry limit is reached, or the request is cancelled.
func (s *Service) GetBlock(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/block/"):]

	addr, err := cid.Decode(param)

	if err != nil {
		s.logger.WithError(err).Errorf("Parsing address parameter %s", param)

		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	block, err := s.node.Get(r.Context(), addr)

	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving block %s", addr)

		http.Error(w, err.Error(), http.StatusNotFound)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(blockJSON{
		Address: block.Address.String(),
		Payload: block.Payload,
	})
}

// GetAliases returns all registered aliases.
func (s *Service) GetAliases(w http.ResponseWriter, r *http.Request) {
	aliases, err := s.node.Aliases()

	if err != nil {
		s.logger.WithError(err).Error("Retrieving aliases")

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	res := make(map[string]string, len(aliases))
	for _, a := range aliases {
		res[a.Name] = a.Target.String()
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(res)
}

// ResolveAlias returns the content address an alias points to.
func (s *Service) ResolveAlias(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Path[len("/alias/"):]

	target, err := s.node.Resolve(name)

	if err != nil {
		s.logger.WithError(err).Errorf("Resolving alias %s", name)

		http.Error(w, err.Error(), http.StatusNotFound)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(target.String())
}

// GetPeers returns the addresses of connected peers.
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(s.node.GetPeers())
}

// CollectGarbage triggers a collection cycle and returns the deleted
// addresses.
func (s *Service) CollectGarbage(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.node.CollectGarbage()

	if err != nil {
		s.logger.WithError(err).Error("Collecting garbage")

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	res := make([]string, len(deleted))
	for i, d := range deleted {
		res[i] = d.String()
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(res)
}
