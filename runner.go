// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"git.arvados.org/arvados.git/lib/cmd"
	"git.arvados.org/arvados.git/sdk/go/arvados"
	"git.arvados.org/arvados.git/sdk/go/arvadosclient"
	"git.arvados.org/arvados.git/sdk/go/keepclient"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/net/websocket"
)

const runtimeImage = "scload-runtime"

type eventMessage struct {
	Status     int
	ObjectUUID string `json:"object_uuid"`
	EventType  string `json:"event_type"`
	Properties struct {
		Text string
	}
}

// eventClient delivers Arvados websocket events about subscribed
// objects to Go channels.
type eventClient struct {
	*arvados.Client
	notifying map[string]map[chan<- eventMessage]int
	wantClose chan struct{}
	wsconn    *websocket.Conn
	mtx       sync.Mutex
}

var watchedEvents = []string{"stderr", "crunch-run", "update"}

func subscription(method, uuid string) map[string]interface{} {
	return map[string]interface{}{
		"method": method,
		"filters": [][]interface{}{
			{"object_uuid", "=", uuid},
			{"event_type", "in", watchedEvents},
		},
	}
}

// Subscribe sends events about uuid to ch until a matching number of
// Unsubscribe calls.
func (client *eventClient) Subscribe(ch chan<- eventMessage, uuid string) {
	client.mtx.Lock()
	defer client.mtx.Unlock()
	if client.notifying == nil {
		client.notifying = map[string]map[chan<- eventMessage]int{}
		client.wantClose = make(chan struct{})
		go client.run()
	}
	chmap := client.notifying[uuid]
	if chmap == nil {
		chmap = map[chan<- eventMessage]int{}
		client.notifying[uuid] = chmap
	}
	chmap[ch]++
	if len(chmap) == 1 && chmap[ch] == 1 && client.wsconn != nil {
		go json.NewEncoder(client.wsconn).Encode(subscription("subscribe", uuid))
	}
}

func (client *eventClient) Unsubscribe(ch chan<- eventMessage, uuid string) {
	client.mtx.Lock()
	defer client.mtx.Unlock()
	chmap := client.notifying[uuid]
	n := chmap[ch] - 1
	if n > 0 {
		chmap[ch] = n
		return
	}
	delete(chmap, ch)
	if len(chmap) == 0 {
		delete(client.notifying, uuid)
		if client.wsconn != nil {
			go json.NewEncoder(client.wsconn).Encode(subscription("unsubscribe", uuid))
		}
	}
}

func (client *eventClient) Close() {
	client.mtx.Lock()
	defer client.mtx.Unlock()
	if client.notifying != nil {
		client.notifying = nil
		close(client.wantClose)
	}
}

func (client *eventClient) dial() (*websocket.Conn, error) {
	var cluster arvados.Cluster
	err := client.RequestAndDecode(&cluster, "GET", arvados.EndpointConfigGet.Path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get cluster config: %w", err)
	}
	wsURL := cluster.Services.Websocket.ExternalURL
	wsURL.Scheme = strings.Replace(wsURL.Scheme, "http", "ws", 1)
	wsURL.Path = "/websocket"
	wsURLNoToken := wsURL.String()
	wsURL.RawQuery = url.Values{"api_token": []string{client.AuthToken}}.Encode()
	conn, err := websocket.Dial(wsURL.String(), "", cluster.Services.Controller.ExternalURL.String())
	if err != nil {
		return nil, err
	}
	log.Printf("connected to websocket at %s", wsURLNoToken)
	return conn, nil
}

// run (re)connects to the websocket service and dispatches events
// until Close is called.
func (client *eventClient) run() {
	for {
		conn, err := client.dial()
		if err != nil {
			log.Warnf("websocket: %s", err)
			select {
			case <-client.wantClose:
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		client.mtx.Lock()
		client.wsconn = conn
		resubscribe := make([]string, 0, len(client.notifying))
		for uuid := range client.notifying {
			resubscribe = append(resubscribe, uuid)
		}
		client.mtx.Unlock()
		go func() {
			w := json.NewEncoder(conn)
			for _, uuid := range resubscribe {
				w.Encode(subscription("subscribe", uuid))
			}
		}()
		if client.dispatch(conn) {
			return
		}
	}
}

// dispatch forwards messages from conn until it fails (returning
// false) or the client is closed (returning true).
func (client *eventClient) dispatch(conn *websocket.Conn) bool {
	r := json.NewDecoder(conn)
	for {
		var msg eventMessage
		err := r.Decode(&msg)
		select {
		case <-client.wantClose:
			return true
		default:
		}
		if err != nil {
			log.Printf("error decoding websocket message: %s", err)
			client.mtx.Lock()
			client.wsconn = nil
			client.mtx.Unlock()
			go conn.Close()
			return false
		}
		client.mtx.Lock()
		for ch := range client.notifying[msg.ObjectUUID] {
			ch := ch
			go func() { ch <- msg }()
		}
		client.mtx.Unlock()
	}
}

var refreshTicker = time.NewTicker(5 * time.Second)

// containerRunner runs an scload subcommand in an Arvados container
// and waits for it to finish, relaying its stderr log.
type containerRunner struct {
	Client      *arvados.Client
	Name        string
	OutputName  string
	ProjectUUID string
	VCPUs       int
	RAM         int64
	Args        []string
	Mounts      map[string]map[string]interface{}
	Priority    int
	Preemptible bool
}

func (runner *containerRunner) Run() (string, error) {
	return runner.RunContext(context.Background())
}

func (runner *containerRunner) RunContext(ctx context.Context) (string, error) {
	if runner.ProjectUUID == "" {
		return "", errors.New("cannot run arvados container: ProjectUUID not provided")
	}
	mounts := map[string]map[string]interface{}{
		"/mnt/output": {
			"kind":     "collection",
			"writable": true,
		},
	}
	for path, mnt := range runner.Mounts {
		mounts[path] = mnt
	}
	cmdUUID, err := runner.makeCommandCollection()
	if err != nil {
		return "", err
	}
	mounts["/mnt/cmd"] = map[string]interface{}{
		"kind": "collection",
		"uuid": cmdUUID,
	}
	priority := runner.Priority
	if priority < 1 {
		priority = 500
	}
	rc := arvados.RuntimeConstraints{
		VCPUs:        runner.VCPUs,
		RAM:          runner.RAM,
		KeepCacheRAM: (1 << 26) * 2 * int64(runner.VCPUs),
	}
	var outname interface{}
	if runner.OutputName != "" {
		outname = runner.OutputName
	}
	var cr arvados.ContainerRequest
	err = runner.Client.RequestAndDecode(&cr, "POST", "arvados/v1/container_requests", nil, map[string]interface{}{
		"container_request": map[string]interface{}{
			"owner_uuid":          runner.ProjectUUID,
			"name":                runner.Name,
			"container_image":     runtimeImage,
			"command":             append([]string{"/mnt/cmd/scload"}, runner.Args...),
			"mounts":              mounts,
			"use_existing":        true,
			"output_path":         "/mnt/output",
			"output_name":         outname,
			"runtime_constraints": rc,
			"priority":            priority,
			"state":               arvados.ContainerRequestStateCommitted,
			"scheduling_parameters": arvados.SchedulingParameters{
				Preemptible: runner.Preemptible,
				Partitions:  []string{},
			},
			"environment": map[string]string{
				"GOMAXPROCS": fmt.Sprintf("%d", rc.VCPUs),
			},
			"container_count_max": 1,
		},
	})
	if err != nil {
		return "", err
	}
	log.Printf("container request UUID: %s", cr.UUID)
	err = runner.wait(ctx, &cr)
	if err != nil {
		return "", err
	}

	var c arvados.Container
	err = runner.Client.RequestAndDecode(&c, "GET", "arvados/v1/containers/"+cr.ContainerUUID, nil, nil)
	if err != nil {
		return "", err
	} else if c.State != arvados.ContainerStateComplete {
		return "", fmt.Errorf("container did not complete: %s", c.State)
	} else if c.ExitCode != 0 {
		return "", fmt.Errorf("container exited %d", c.ExitCode)
	}
	return cr.OutputUUID, nil
}

// wait polls cr until it is final, relaying the container's logs. If
// ctx is cancelled first, the request is cancelled too.
func (runner *containerRunner) wait(ctx context.Context, cr *arvados.ContainerRequest) error {
	logch := make(chan eventMessage)
	client := eventClient{Client: runner.Client}
	defer client.Close()
	tail := logTail{runner: runner, offset: map[string]int64{}}
	subscribed := ""
	defer func() {
		if subscribed != "" {
			client.Unsubscribe(logch, subscribed)
		}
	}()

	lastState := cr.State
	refresh := func() {
		ctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		err := runner.Client.RequestAndDecodeContext(ctx, cr, "GET", "arvados/v1/container_requests/"+cr.UUID, nil, nil)
		if err != nil {
			tail.newline()
			log.Printf("error getting container request: %s", err)
			return
		}
		if lastState != cr.State {
			tail.newline()
			log.Printf("container request state: %s", cr.State)
			lastState = cr.State
		}
		if subscribed != cr.ContainerUUID {
			tail.newline()
			if subscribed != "" {
				client.Unsubscribe(logch, subscribed)
			}
			log.Printf("container UUID: %s", cr.ContainerUUID)
			client.Subscribe(logch, cr.ContainerUUID)
			subscribed = cr.ContainerUUID
			tail.offset = map[string]int64{}
		}
	}

	const logWaitMin, logWaitMax = time.Second, 10 * time.Second
	logWait := logWaitMin
	logWaitDone := time.After(logWait)
	for cr.State != arvados.ContainerRequestStateFinal {
		select {
		case <-ctx.Done():
			err := runner.Client.RequestAndDecode(cr, "PATCH", "arvados/v1/container_requests/"+cr.UUID, nil, map[string]interface{}{
				"container_request": map[string]interface{}{
					"priority": 0,
				},
			})
			if err != nil {
				log.Errorf("error while trying to cancel container request %s: %s", cr.UUID, err)
			}
			return ctx.Err()
		case <-refreshTicker.C:
			refresh()
		case msg := <-logch:
			if msg.EventType == "update" {
				refresh()
			}
		case <-logWaitDone:
			if tail.poll(cr) {
				logWait = logWaitMin
			} else {
				logWait *= 2
				if logWait > logWaitMax {
					logWait = logWaitMax
				}
			}
			logWaitDone = time.After(logWait)
		}
	}
	tail.newline()
	return nil
}

var reCrunchstat = regexp.MustCompile(`mem .* (\d+) rss`)

// logTail copies new lines of a container's stderr log to our log,
// and shows its memory use from the crunchstat log on a status line.
type logTail struct {
	runner      *containerRunner
	offset      map[string]int64
	needNewline bool
}

func (t *logTail) newline() {
	if t.needNewline {
		fmt.Fprint(os.Stderr, "\n")
		t.needNewline = false
	}
}

// poll fetches new log data and reports whether there was any.
func (t *logTail) poll(cr *arvados.ContainerRequest) bool {
	any := false
	for _, fnm := range []string{"stderr.txt", "crunchstat.txt"} {
		logdata, err := t.fetch(cr, fnm)
		if err != nil {
			log.Errorf("error getting log data: %s", err)
			continue
		}
		for {
			eol := bytes.IndexByte(logdata, '\n')
			if eol < 0 {
				break
			}
			line := string(logdata[:eol])
			logdata = logdata[eol+1:]
			t.offset[fnm] += int64(eol + 1)
			if line == "" {
				continue
			}
			any = true
			if fnm == "stderr.txt" {
				t.newline()
				log.Print(line)
			} else if m := reCrunchstat.FindStringSubmatch(line); m != nil {
				rss, _ := strconv.ParseInt(m[1], 10, 64)
				fmt.Fprintf(os.Stderr, "%s rss %.3f GB           \r", cr.UUID, float64(rss)/1e9)
				t.needNewline = true
			}
		}
	}
	return any
}

func (t *logTail) fetch(cr *arvados.ContainerRequest, fnm string) ([]byte, error) {
	client := t.runner.Client
	req, err := http.NewRequest("GET", "https://"+client.APIHost+"/arvados/v1/container_requests/"+cr.UUID+"/log/"+cr.ContainerUUID+"/"+fnm, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", t.offset[fnm]))
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if (resp.StatusCode == http.StatusNotFound && t.offset[fnm] == 0) ||
		(resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && t.offset[fnm] > 0) {
		return nil, nil
	} else if resp.StatusCode >= 300 {
		return nil, errors.New(resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// TranslatePaths rewrites each Keep path (".../{uuid or
// pdh}/path/to/file") to the corresponding path inside the
// container, and adds the collection mounts needed.
func (runner *containerRunner) TranslatePaths(paths ...*string) error {
	if runner.Mounts == nil {
		runner.Mounts = make(map[string]map[string]interface{})
	}
	for _, path := range paths {
		if *path == "" || *path == "-" {
			continue
		}
		m := collectionInPathRe.FindStringSubmatch(*path)
		if m == nil {
			return fmt.Errorf("cannot find uuid in path: %q", *path)
		}
		collID := m[2]
		if _, ok := runner.Mounts["/mnt/"+collID]; !ok {
			mnt := map[string]interface{}{"kind": "collection"}
			if len(collID) == 27 {
				mnt["uuid"] = collID
			} else {
				mnt["portable_data_hash"] = collID
			}
			runner.Mounts["/mnt/"+collID] = mnt
		}
		*path = "/mnt/" + collID + m[3]
	}
	return nil
}

var mtxMakeCommandCollection sync.Mutex

// makeCommandCollection returns the UUID of a collection containing
// the running scload binary, creating it if needed.
func (runner *containerRunner) makeCommandCollection() (string, error) {
	mtxMakeCommandCollection.Lock()
	defer mtxMakeCommandCollection.Unlock()
	exe, err := ioutil.ReadFile("/proc/self/exe")
	if err != nil {
		return "", err
	}
	b2 := fmt.Sprintf("%x", blake2b.Sum256(exe))
	cname := "scload " + cmd.Version.String()
	var existing arvados.CollectionList
	err = runner.Client.RequestAndDecode(&existing, "GET", "arvados/v1/collections", nil, arvados.ListOptions{
		Limit: 1,
		Count: "none",
		Filters: []arvados.Filter{
			{Attr: "name", Operator: "=", Operand: cname},
			{Attr: "owner_uuid", Operator: "=", Operand: runner.ProjectUUID},
			{Attr: "properties.blake2b", Operator: "=", Operand: b2},
		},
	})
	if err != nil {
		return "", err
	}
	if len(existing.Items) > 0 {
		coll := existing.Items[0]
		log.Printf("using scload binary in existing collection %s", coll.UUID)
		return coll.UUID, nil
	}
	log.Printf("writing scload binary to new collection %q", cname)
	ac, err := arvadosclient.New(runner.Client)
	if err != nil {
		return "", err
	}
	kc := keepclient.New(ac)
	var coll arvados.Collection
	fs, err := coll.FileSystem(runner.Client, kc)
	if err != nil {
		return "", err
	}
	f, err := fs.OpenFile("scload", os.O_CREATE|os.O_WRONLY, 0777)
	if err != nil {
		return "", err
	}
	_, err = f.Write(exe)
	if err != nil {
		return "", err
	}
	err = f.Close()
	if err != nil {
		return "", err
	}
	mtxt, err := fs.MarshalManifest(".")
	if err != nil {
		return "", err
	}
	err = runner.Client.RequestAndDecode(&coll, "POST", "arvados/v1/collections", nil, map[string]interface{}{
		"collection": map[string]interface{}{
			"owner_uuid":    runner.ProjectUUID,
			"manifest_text": mtxt,
			"name":          cname,
			"properties": map[string]interface{}{
				"blake2b": b2,
			},
		},
	})
	if err != nil {
		return "", err
	}
	log.Printf("stored scload binary in new collection %s", coll.UUID)
	return coll.UUID, nil
}

// remoteFlags are the flags shared by subcommands that can run in an
// Arvados container.
type remoteFlags struct {
	local       bool
	projectUUID string
	priority    int
	preemptible bool
}

func (rf *remoteFlags) Flags(flags *flag.FlagSet) {
	flags.BoolVar(&rf.local, "local", true, "run on local host (false: run in an arvados container)")
	flags.StringVar(&rf.projectUUID, "project", "", "project `UUID` for output data (with -local=false)")
	flags.IntVar(&rf.priority, "priority", 500, "container request priority")
	flags.BoolVar(&rf.preemptible, "preemptible", true, "request preemptible instance")
}

// runner returns a container runner for the named subcommand. The
// caller translates its input paths and appends the subcommand's
// arguments to Args.
func (rf *remoteFlags) runner(name string, ram int64) *containerRunner {
	return &containerRunner{
		Name:        "scload " + name,
		Client:      arvados.NewClientFromEnv(),
		ProjectUUID: rf.projectUUID,
		RAM:         ram,
		VCPUs:       2,
		Priority:    rf.priority,
		Preemptible: rf.preemptible,
		Args:        []string{name, "-local=true"},
	}
}
