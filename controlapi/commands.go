/*
Commands.go implements one HTTP handler per node.Node command (spec.md
§4.J/§6.1), each a thin JSON-decode/re-encode wrapper around the
corresponding Node method. Grounded on the teacher's webapi/Status.go and
webapi/Profile.go handler shape: decode a small request struct, call into
the core, encode a small response struct.
*/
package controlapi

import (
	"encoding/hex"
	"net/http"

	"github.com/meshrelay/core/audio"
	"github.com/meshrelay/core/config"
	"github.com/meshrelay/core/filetransfer"
	"github.com/meshrelay/core/identity"
	"github.com/meshrelay/core/node"
)

func (api *Instance) apiStart(w http.ResponseWriter, r *http.Request) {
	var cfg config.Config
	if DecodeJSON(w, r, &cfg) != nil {
		return
	}
	_, err := api.Node.Start(&cfg)
	if err != nil {
		EncodeJSON(w, resultResponse{Result: err.Error()})
		return
	}
	api.ensureBroadcast()
	writeResult(w, node.ResultOK)
}

func (api *Instance) apiStop(w http.ResponseWriter, r *http.Request) {
	writeResult(w, api.Node.Stop())
}

type apiResponseNodeId struct {
	NodeID string `json:"node_id"`
	Result string `json:"result"`
}

func (api *Instance) apiNodeId(w http.ResponseWriter, r *http.Request) {
	id, result := api.Node.NodeId()
	EncodeJSON(w, apiResponseNodeId{NodeID: id.String(), Result: string(result)})
}

type apiResponseStats struct {
	node.Stats
	Result string `json:"result"`
}

func (api *Instance) apiStats(w http.ResponseWriter, r *http.Request) {
	stats, result := api.Node.GetStats()
	EncodeJSON(w, apiResponseStats{Stats: stats, Result: string(result)})
}

func (api *Instance) apiNuke(w http.ResponseWriter, r *http.Request) {
	writeResult(w, api.Node.Nuke())
}

type destTextRequest struct {
	Dest string `json:"dest"`
	Text string `json:"text"`
}

func parseDest(s string) (identity.NodeId, error) {
	return identity.ParseNodeId(s)
}

func (api *Instance) apiSendText(w http.ResponseWriter, r *http.Request) {
	var req destTextRequest
	if DecodeJSON(w, r, &req) != nil {
		return
	}
	dest, err := parseDest(req.Dest)
	if err != nil {
		writeResult(w, node.ResultInvalidArgument)
		return
	}
	writeResult(w, api.Node.SendText(dest, req.Text))
}

func (api *Instance) apiSendDirect(w http.ResponseWriter, r *http.Request) {
	var req destTextRequest
	if DecodeJSON(w, r, &req) != nil {
		return
	}
	dest, err := parseDest(req.Dest)
	if err != nil {
		writeResult(w, node.ResultInvalidArgument)
		return
	}
	writeResult(w, api.Node.SendDirect(dest, req.Text))
}

type textRequest struct {
	Text string `json:"text"`
}

func (api *Instance) apiSendPublicBroadcast(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if DecodeJSON(w, r, &req) != nil {
		return
	}
	writeResult(w, api.Node.SendPublicBroadcast(req.Text))
}

type sosRequest struct {
	Text string  `json:"text"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

func (api *Instance) apiSendSOS(w http.ResponseWriter, r *http.Request) {
	var req sosRequest
	if DecodeJSON(w, r, &req) != nil {
		return
	}
	writeResult(w, api.Node.SendSOS(req.Text, req.Lat, req.Lon))
}

type profileRequest struct {
	Name string `json:"name"`
	Bio  string `json:"bio"`
}

func (api *Instance) apiUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if DecodeJSON(w, r, &req) != nil {
		return
	}
	writeResult(w, api.Node.UpdateProfile(req.Name, req.Bio))
}

type sendFileRequest struct {
	Dest string `json:"dest"`
	Path string `json:"path"`
}

type apiResponseFileID struct {
	FileID string `json:"file_id"`
	Result string `json:"result"`
}

func (api *Instance) apiSendFile(w http.ResponseWriter, r *http.Request) {
	var req sendFileRequest
	if DecodeJSON(w, r, &req) != nil {
		return
	}
	dest, err := parseDest(req.Dest)
	if err != nil {
		EncodeJSON(w, apiResponseFileID{Result: string(node.ResultInvalidArgument)})
		return
	}
	fileID, result := api.Node.SendFile(dest, req.Path)
	EncodeJSON(w, apiResponseFileID{FileID: hexFileID(fileID), Result: string(result)})
}

type acceptFileRequest struct {
	Origin    string `json:"origin"`
	FileID    string `json:"file_id"`
	Filename  string `json:"filename"`
	Size      uint64 `json:"size"`
	ChunkSize uint32 `json:"chunk_size"`
	DestDir   string `json:"dest_dir"`
}

func (api *Instance) apiAcceptFile(w http.ResponseWriter, r *http.Request) {
	var req acceptFileRequest
	if DecodeJSON(w, r, &req) != nil {
		return
	}
	origin, err := parseDest(req.Origin)
	if err != nil {
		writeResult(w, node.ResultInvalidArgument)
		return
	}
	fileID, err := parseFileID(req.FileID)
	if err != nil {
		writeResult(w, node.ResultInvalidArgument)
		return
	}
	writeResult(w, api.Node.AcceptFile(origin, fileID, req.Filename, req.Size, req.ChunkSize, req.DestDir))
}

type declineFileRequest struct {
	Origin string `json:"origin"`
	FileID string `json:"file_id"`
}

func (api *Instance) apiDeclineFile(w http.ResponseWriter, r *http.Request) {
	var req declineFileRequest
	if DecodeJSON(w, r, &req) != nil {
		return
	}
	origin, err := parseDest(req.Origin)
	if err != nil {
		writeResult(w, node.ResultInvalidArgument)
		return
	}
	fileID, err := parseFileID(req.FileID)
	if err != nil {
		writeResult(w, node.ResultInvalidArgument)
		return
	}
	writeResult(w, api.Node.DeclineFile(origin, fileID))
}

type apiResponseBanned struct {
	NodeIDs []string `json:"node_ids"`
	Result  string   `json:"result"`
}

func (api *Instance) apiListBanned(w http.ResponseWriter, r *http.Request) {
	ids, result := api.Node.ListBanned()
	resp := apiResponseBanned{Result: string(result)}
	for _, id := range ids {
		resp.NodeIDs = append(resp.NodeIDs, id.String())
	}
	EncodeJSON(w, resp)
}

func (api *Instance) apiUnbanPeer(w http.ResponseWriter, r *http.Request) {
	var req destRequest
	if DecodeJSON(w, r, &req) != nil {
		return
	}
	id, err := parseDest(req.Dest)
	if err != nil {
		writeResult(w, node.ResultInvalidArgument)
		return
	}
	writeResult(w, api.Node.UnbanPeer(id))
}

type sendVoiceRequest struct {
	Dest string `json:"dest"`
	PCM  []byte `json:"pcm"`
}

func (api *Instance) apiSendVoice(w http.ResponseWriter, r *http.Request) {
	var req sendVoiceRequest
	if DecodeJSON(w, r, &req) != nil {
		return
	}
	dest, err := parseDest(req.Dest)
	if err != nil {
		writeResult(w, node.ResultInvalidArgument)
		return
	}
	writeResult(w, api.Node.SendVoice(dest, req.PCM))
}

type destRequest struct {
	Dest string `json:"dest"`
}

type apiResponseCallID struct {
	CallID string `json:"call_id"`
	Result string `json:"result"`
}

func (api *Instance) apiStartCall(w http.ResponseWriter, r *http.Request) {
	var req destRequest
	if DecodeJSON(w, r, &req) != nil {
		return
	}
	dest, err := parseDest(req.Dest)
	if err != nil {
		EncodeJSON(w, apiResponseCallID{Result: string(node.ResultInvalidArgument)})
		return
	}
	callID, result := api.Node.StartCall(dest)
	EncodeJSON(w, apiResponseCallID{CallID: hexCallID(callID), Result: string(result)})
}

func (api *Instance) apiEndCall(w http.ResponseWriter, r *http.Request) {
	var req destRequest
	if DecodeJSON(w, r, &req) != nil {
		return
	}
	dest, err := parseDest(req.Dest)
	if err != nil {
		writeResult(w, node.ResultInvalidArgument)
		return
	}
	writeResult(w, api.Node.EndCall(dest))
}

type audioFrameRequest struct {
	Dest string `json:"dest"`
	PCM  []byte `json:"pcm"`
}

func (api *Instance) apiSendAudioFrame(w http.ResponseWriter, r *http.Request) {
	var req audioFrameRequest
	if DecodeJSON(w, r, &req) != nil {
		return
	}
	dest, err := parseDest(req.Dest)
	if err != nil {
		writeResult(w, node.ResultInvalidArgument)
		return
	}
	writeResult(w, api.Node.SendAudioFrame(dest, req.PCM))
}

func hexFileID(id filetransfer.FileID) string {
	return hex.EncodeToString(id[:])
}

func hexCallID(id audio.CallID) string {
	return hex.EncodeToString(id[:])
}

func parseFileID(s string) (filetransfer.FileID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return filetransfer.FileID{}, err
	}
	var id filetransfer.FileID
	copy(id[:], raw)
	return id, nil
}
