package hoard

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/meshnetworks/hoard/src/cas"
	"github.com/meshnetworks/hoard/src/config"
)

// This example starts a standalone node with an in-memory store, writes a
// block, pins it, and reads it back by content address.
func Example() {
	dir, _ := ioutil.TempDir("", "hoard_example")
	defer os.RemoveAll(dir)

	// Start from default configuration.
	conf := config.NewDefaultConfig()
	conf.SetDataDir(dir)
	conf.BindAddr = "127.0.0.1:0"
	conf.NoService = true
	conf.LogLevel = "error"

	// Instantiate the engine.
	engine := NewHoard(conf)

	// Read in the configuration and initialise the node accordingly.
	if err := engine.Init(); err != nil {
		conf.Logger().Error("Cannot initialize hoard:", err)
		os.Exit(1)
	}

	// Run the node asynchronously.
	go engine.Run()
	defer engine.Node.Shutdown()

	addr, err := engine.Node.Put(cas.Raw, []byte("hello world"))
	if err != nil {
		conf.Logger().Error(err)
		os.Exit(1)
	}

	engine.Node.Pin("greeting", addr)

	block, err := engine.Node.Get(context.Background(), addr)
	if err != nil {
		conf.Logger().Error(err)
		os.Exit(1)
	}

	fmt.Println(string(block.Payload))
	// Output: hello world
}
