package apiconn

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/honux/lolbuff/internal/dispatcher/registry"
	"github.com/honux/lolbuff/internal/dispatcher/workerconn"
)

const maxListIDs = 30

// Router owns the registries needed to turn a parsed request into a
// dispatched worker frame.
type Router struct {
	Tasks   *registry.TaskRegistry
	Workers *registry.WorkerRegistry
	Log     *zap.SugaredLogger
}

// Handle is the per-connection entry point: read one request line, route
// it, write exactly one response (or hand the connection off to the Task
// Registry to complete asynchronously once a worker replies).
func (rt *Router) Handle(nc net.Conn) {
	r := bufio.NewReader(nc)
	req, err := readRequestLine(r)
	if err != nil {
		write503NoWorker(nc)
		return
	}
	rt.route(nc, req)
}

func (rt *Router) route(nc net.Conn, req *request) {
	seg := req.segments

	switch {
	case len(seg) >= 1 && seg[0] == "player" && len(seg) == 2:
		rt.dispatch(nc, "summonerService", "getSummonerByName", workerconn.FrameString,
			workerconn.EncodeString(seg[1]))

	case len(seg) == 3 && seg[0] == "player" && seg[2] == "inGame":
		rt.dispatch(nc, "gameService", "retrieveInProgressSpectatorGameInfo", workerconn.FrameString,
			workerconn.EncodeString(seg[1]))

	case len(seg) == 3 && seg[0] == "accountid" && seg[2] == "recentGames":
		rt.numericRoute(nc, seg[1], "playerStatsService", "getRecentGames")

	case len(seg) == 3 && seg[0] == "accountid" && seg[2] == "allPublicData":
		rt.numericRoute(nc, seg[1], "summonerService", "getAllPublicSummonerDataByAccount")

	case len(seg) == 3 && seg[0] == "accountid" && seg[2] == "stats":
		rt.numericRoute(nc, seg[1], "playerStatsService", "retrievePlayerStatsByAccountId")

	case len(seg) == 3 && seg[0] == "accountid" && seg[2] == "topPlayed":
		n, ok := parseUint32(seg[1])
		if !ok {
			write400(nc)
			return
		}
		rt.dispatch(nc, "playerStatsService", "retrieveTopPlayedChampions", workerconn.FrameGeneric,
			workerconn.EncodeGeneric([]workerconn.GenericArg{
				workerconn.Numeric(n), workerconn.String("CLASSIC"),
			}))

	case len(seg) == 4 && seg[0] == "accountid" && seg[2] == "rankedStats":
		n, ok1 := parseUint32(seg[1])
		s, ok2 := parseUint32(seg[3])
		if !ok1 || !ok2 || len(seg[3]) != 1 {
			write400(nc)
			return
		}
		rt.dispatch(nc, "playerStatsService", "getAggregatedStats", workerconn.FrameGeneric,
			workerconn.EncodeGeneric([]workerconn.GenericArg{
				workerconn.Numeric(n), workerconn.String("CLASSIC"), workerconn.Numeric(s),
			}))

	case len(seg) == 3 && seg[0] == "summonerid" && seg[2] == "leagues":
		rt.numericRoute(nc, seg[1], "leaguesServiceProxy", "getAllLeaguesForPlayer")

	case len(seg) == 3 && seg[0] == "summonerid" && seg[2] == "honor":
		n, ok := parseUint32(seg[1])
		if !ok {
			write400(nc)
			return
		}
		body, _ := json.Marshal(struct {
			CommandName string `json:"commandName"`
			SummonerID  uint32 `json:"summonerId"`
		}{"TOTALS", n})
		rt.dispatch(nc, "clientFacadeService", "callKudos", workerconn.FrameString,
			workerconn.EncodeString(string(body)))

	case len(seg) == 3 && seg[0] == "summonerid" && seg[2] == "runes":
		rt.numericRoute(nc, seg[1], "spellBookService", "getSpellBook")

	case len(seg) == 3 && seg[0] == "summonerid" && seg[2] == "masteries":
		rt.numericRoute(nc, seg[1], "masteryBookService", "getMasteryBook")

	case len(seg) == 3 && seg[0] == "list" && seg[2] == "icons":
		rt.listRoute(nc, seg[1], "summonerService", "getSummonerIcons")

	case len(seg) == 3 && seg[0] == "list" && seg[2] == "names":
		rt.listRoute(nc, seg[1], "summonerService", "getSummonerNames")

	case len(seg) == 2 && seg[0] == "server" && seg[1] == "status":
		rt.serverStatus(nc)

	case len(seg) == 4 && seg[0] == "server" && seg[1] == "worker" && seg[3] == "test":
		rt.workerAdmin(nc, seg[2], workerconn.FrameGeneric, "probe", true)

	case len(seg) == 4 && seg[0] == "server" && seg[1] == "worker" && seg[3] == "restart":
		rt.workerAdmin(nc, seg[2], workerconn.FrameForceReconnect, "", false)

	case len(seg) == 4 && seg[0] == "server" && seg[1] == "worker" && seg[3] == "kill":
		rt.workerAdmin(nc, seg[2], workerconn.FrameKill, "", false)

	case len(seg) == 4 && seg[0] == "numeric":
		n, ok := parseUint32(seg[1])
		if !ok {
			write400(nc)
			return
		}
		rt.dispatch(nc, seg[2], seg[3], workerconn.FrameNumeric, workerconn.EncodeNumeric(n))

	default:
		write400(nc)
	}
}

func (rt *Router) numericRoute(nc net.Conn, idStr, dest, op string) {
	n, ok := parseUint32(idStr)
	if !ok {
		write400(nc)
		return
	}
	rt.dispatch(nc, dest, op, workerconn.FrameNumeric, workerconn.EncodeNumeric(n))
}

func (rt *Router) listRoute(nc net.Conn, idsStr, dest, op string) {
	ids, ok := parseIDList(idsStr, maxListIDs)
	if !ok {
		write400(nc)
		return
	}
	rt.dispatch(nc, dest, op, workerconn.FrameList, workerconn.EncodeList(ids))
}

// dispatch creates a task, builds the request record addressed to it,
// and hands it to the next round-robin worker. The response is written
// asynchronously by the Task Registry once the worker replies (or the
// deadline fires).
func (rt *Router) dispatch(nc net.Conn, dest, op string, frameType byte, payload []byte) {
	if !rt.Workers.HasAvailable() {
		write503NoWorker(nc)
		return
	}
	w, ok := rt.Workers.NextAvailable()
	if !ok {
		write503NoWorker(nc)
		return
	}

	task := rt.Tasks.Create(dest, op, &connSink{nc: nc})
	frame, err := workerconn.BuildFrame(frameType, task.ID, dest, op, payload)
	if err != nil {
		rt.Tasks.Cancel(task)
		write400(nc)
		return
	}
	if err := w.Send(frame); err != nil {
		rt.Tasks.Cancel(task)
		write503NoWorker(nc)
		return
	}
	go watchDisconnect(nc, rt.Tasks, task)
}

// watchDisconnect blocks on a read of the client connection until it
// returns (the client dropped mid-flight, or the sink already closed the
// connection after a normal completion) and cancels task. Cancel is a
// no-op once the task has already left StateOpen, so calling it after a
// normal completion or timeout costs nothing; calling it on a genuine
// early disconnect disarms the task's deadline timer and frees its slot
// instead of letting it linger until the deadline fires.
func watchDisconnect(nc net.Conn, tasks *registry.TaskRegistry, task *registry.Task) {
	buf := make([]byte, 1)
	_, _ = nc.Read(buf)
	tasks.Cancel(task)
}

// workerAdmin targets a specific worker by registry index
// ("/server/worker/<k>/...") rather than round-robin selection.
func (rt *Router) workerAdmin(nc net.Conn, idxStr string, frameType byte, op string, expectReply bool) {
	idx, ok := parseUint32(idxStr)
	if !ok {
		write400(nc)
		return
	}
	w, ok := rt.Workers.GetAt(int(idx))
	if !ok {
		write503WorkerNotFound(nc)
		return
	}

	if expectReply {
		task := rt.Tasks.Create("server", op, &connSink{nc: nc})
		frame, err := workerconn.BuildFrame(frameType, task.ID, "server", op, workerconn.EncodeGeneric(nil))
		if err != nil {
			rt.Tasks.Cancel(task)
			write400(nc)
			return
		}
		if err := w.Send(frame); err != nil {
			rt.Tasks.Cancel(task)
			write503WorkerNotFound(nc)
			return
		}
		go watchDisconnect(nc, rt.Tasks, task)
		return
	}

	frame := workerconn.BuildControlFrame(frameType, 0)
	if err := w.Send(frame); err != nil {
		write503WorkerNotFound(nc)
		return
	}
	if frameType == workerconn.FrameKill {
		rt.Workers.UnsubscribeAt(int(idx))
		writeOK(nc, `{"success":true, "code":200, "data":{"message":"Killed the worker. List updated."}}`)
		return
	}
	writeOK(nc, `{"success":true, "code":200, "data":{"message":"Restarted the worker."}}`)
}

func (rt *Router) serverStatus(nc net.Conn) {
	writeOK(nc, fmt.Sprintf(`{"success":true, "code":200, "data":{"workerCount":%d}}`, rt.Workers.Len()))
}
